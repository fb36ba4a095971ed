package nn

import "math"

const (
	// logClamp bounds log(p) from below so a saturated prediction yields a
	// finite loss.
	logClamp = -100.0
	gradEps  = 1e-12
)

// BCELoss is the mean binary cross entropy between probabilities and 0/1
// targets. It also returns d(loss)/d(prob) for every element.
func BCELoss(probs, targets []float64) (float64, []float64) {
	if len(probs) != len(targets) {
		panic(shapeErr("BCELoss", []int{len(probs)}, []int{len(targets)}))
	}
	if len(probs) == 0 {
		return 0, nil
	}
	n := float64(len(probs))
	grad := make([]float64, len(probs))
	var loss float64
	for i, p := range probs {
		t := targets[i]
		loss -= t*clampedLog(p) + (1-t)*clampedLog(1-p)
		grad[i] = (p - t) / math.Max(p*(1-p), gradEps) / n
	}
	return loss / n, grad
}

func clampedLog(x float64) float64 {
	if x <= 0 {
		return logClamp
	}
	return math.Max(math.Log(x), logClamp)
}
