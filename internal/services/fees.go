package services

const basisPoints = 10000

// FeeSplit divides a gross amount between the lawyer and the platform
type FeeSplit struct {
	LawyerAmount int64
	PlatformFee  int64
}

// SplitAmount computes lawyer = floor(gross*(1-fee)) and
// platform = ceil(gross*fee), with fee given in basis points. Computed in
// integers the two parts always add up to gross.
func SplitAmount(gross, feeBps int64) FeeSplit {
	q, r := gross/basisPoints, gross%basisPoints
	lawyerBps := basisPoints - feeBps

	lawyer := q*lawyerBps + (r*lawyerBps)/basisPoints
	fee := q*feeBps + (r*feeBps+basisPoints-1)/basisPoints

	return FeeSplit{LawyerAmount: lawyer, PlatformFee: fee}
}
