package model

import "siamese-iris/internal/nn"

// Model is what the training loop drives: a pair of image batches in, one
// similarity probability per pair out.
type Model interface {
	Forward(first, second *nn.Tensor, train bool) []float64
	Backward(gradProbs []float64)
	Params() []*nn.Param
}
