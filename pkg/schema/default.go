package schema

// Default returns the shipped v1 schema: daily activity totals, vitals, and
// 7-day rolling means over the canonical wearable fields. Totals impute with
// the population median; vitals carry forward, since a missed reading is far
// more likely than a true change. Step-tracker exports carry no explicit
// resting-heart-rate column, so resting_hr is derived as the daily minimum
// of the heart-rate samples.
func Default() *FeatureSchema {
	return &FeatureSchema{
		Version: 1,
		Features: []FeatureDef{
			{Name: "steps", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "steps", Reduction: ReduceSum, NullPolicy: NullAllow, Impute: ImputeMedian},
			{Name: "distance_km", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "distance_km", Reduction: ReduceSum, NullPolicy: NullAllow, Impute: ImputeMedian},
			{Name: "active_minutes", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "active_minutes", Reduction: ReduceSum, NullPolicy: NullAllow, Impute: ImputeMedian},
			{Name: "active_energy_kcal", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "active_energy_kcal", Reduction: ReduceSum, NullPolicy: NullAllow, Impute: ImputeMedian},
			{Name: "sleep_minutes", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "sleep_minutes", Reduction: ReduceSum, NullPolicy: NullAllow, Impute: ImputeMedian},
			{Name: "heart_rate", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "heart_rate", Reduction: ReduceMean, NullPolicy: NullCarryForward, Impute: ImputeMedian},
			{Name: "resting_hr", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "heart_rate", Reduction: ReduceMin, NullPolicy: NullCarryForward, Impute: ImputeMedian},
			{Name: "hrv_sdnn", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "hrv_sdnn", Reduction: ReduceMean, NullPolicy: NullCarryForward, Impute: ImputeMedian},
			{Name: "walking_hr_avg", Type: TypeNumeric, Derivation: DeriveAggregate, SourceField: "walking_hr_avg", Reduction: ReduceMean, NullPolicy: NullCarryForward, Impute: ImputeMedian},
			{Name: "vo2max", Type: TypeNumeric, Derivation: DeriveDirect, SourceField: "vo2max", NullPolicy: NullCarryForward, Impute: ImputeMedian},
			{Name: "steps_7d_mean", Type: TypeNumeric, Derivation: DeriveRolling, SourceField: "steps", Reduction: ReduceMean, WindowDays: 7, NullPolicy: NullAllow},
			{Name: "sleep_7d_mean", Type: TypeNumeric, Derivation: DeriveRolling, SourceField: "sleep_minutes", Reduction: ReduceMean, WindowDays: 7, NullPolicy: NullAllow},
			{Name: "heart_rate_7d_mean", Type: TypeNumeric, Derivation: DeriveRolling, SourceField: "heart_rate", Reduction: ReduceMean, WindowDays: 7, NullPolicy: NullAllow},
			{Name: "resting_hr_7d_mean", Type: TypeNumeric, Derivation: DeriveRolling, SourceField: "resting_hr", Reduction: ReduceMean, WindowDays: 7, NullPolicy: NullAllow},
			{Name: "resting_hr_filled", Type: TypeNumeric, Derivation: DeriveImputed, SourceField: "resting_hr", NullPolicy: NullAllow, Impute: ImputeMedian},
		},
	}
}
