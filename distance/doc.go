// Package distance provides the float32 kernels shared by the in-process engines.
//
// # Usage
//
//	d := distance.SquaredL2(a, b)
//	sim := distance.Dot(a, b)
//	ok := distance.NormalizeL2InPlace(v)
package distance
