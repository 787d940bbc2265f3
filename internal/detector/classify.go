package detector

import "tidespike/internal/model"

// ReasonFor places value against the interval widened by buffer on both sides.
func ReasonFor(value float64, iv model.Interval, buffer float64) model.Reason {
	switch {
	case value < iv.Lower-buffer:
		return model.ReasonBelowLower
	case value > iv.Upper+buffer:
		return model.ReasonAboveUpper
	default:
		return model.ReasonWithinRange
	}
}

func insufficient(value float64, count int) model.Classification {
	return model.Classification{
		Value:       value,
		Reason:      model.ReasonInsufficientHistory,
		WindowCount: count,
	}
}
