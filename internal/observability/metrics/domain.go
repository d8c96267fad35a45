package metrics

import "time"

// ScanCompleted records a finished relevance scan.
func ScanCompleted(duration time.Duration, feedChains, skipped, matched int) {
	if !enabled {
		return
	}
	scanTotal.WithLabelValues("success").Inc()
	scanDuration.Observe(duration.Seconds())
	scanFeedChains.Set(float64(feedChains))
	scanSkipped.Set(float64(skipped))
	scanMatched.Set(float64(matched))
}

// ScanFailed records a relevance scan that did not complete.
func ScanFailed(reason string) {
	if !enabled {
		return
	}
	scanTotal.WithLabelValues(reason).Inc()
}

// ManifestRead records a manifest request.
func ManifestRead(status string) {
	if !enabled {
		return
	}
	manifestTotal.WithLabelValues(status).Inc()
}

// RPCProbe records one endpoint probe.
func RPCProbe(result string) {
	if !enabled {
		return
	}
	probeTotal.WithLabelValues(result).Inc()
}

// PipelineStep records the final state of a supervised step.
func PipelineStep(step, state string) {
	if !enabled {
		return
	}
	pipelineStepRun.WithLabelValues(step, state).Inc()
}
