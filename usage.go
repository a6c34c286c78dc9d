package llmstream

// VendorUsage is the loosely-shaped usage payload reported by an upstream
// vendor. Vendors either report flat counters, flat counters plus a nested
// details substructure with the reasoning/cache breakdown, or nothing at all.
type VendorUsage struct {
	// InputTokens is the prompt-side token count
	InputTokens int

	// OutputTokens is the completion-side token count
	OutputTokens int

	// TotalTokens is the combined count; zero when the vendor leaves the
	// summation to the consumer
	TotalTokens int

	// CacheWriteTokens and CacheReadTokens are flat cache counters, used by
	// vendors that report the cache breakdown at the top level
	CacheWriteTokens int
	CacheReadTokens  int

	// Details holds the nested breakdown, for vendors that report it as a
	// substructure
	Details *VendorUsageDetails
}

// VendorUsageDetails is the nested usage breakdown some vendors attach.
type VendorUsageDetails struct {
	ThinkingTokens   int
	CacheWriteTokens int
	CacheReadTokens  int
}

// NormalizeUsage converts a vendor usage payload into a UsageSnapshot.
// Negative counters are clamped to zero and TotalTokens defaults to
// input + output when not supplied.
func NormalizeUsage(vu VendorUsage) *UsageSnapshot {
	snap := &UsageSnapshot{
		InputTokens:      clampNonNegative(vu.InputTokens),
		OutputTokens:     clampNonNegative(vu.OutputTokens),
		TotalTokens:      clampNonNegative(vu.TotalTokens),
		CacheWriteTokens: clampNonNegative(vu.CacheWriteTokens),
		CacheReadTokens:  clampNonNegative(vu.CacheReadTokens),
	}
	if vu.Details != nil {
		snap.ThinkingTokens = clampNonNegative(vu.Details.ThinkingTokens)
		if snap.CacheWriteTokens == 0 {
			snap.CacheWriteTokens = clampNonNegative(vu.Details.CacheWriteTokens)
		}
		if snap.CacheReadTokens == 0 {
			snap.CacheReadTokens = clampNonNegative(vu.Details.CacheReadTokens)
		}
	}
	if snap.TotalTokens == 0 {
		snap.TotalTokens = snap.InputTokens + snap.OutputTokens
	}
	return snap
}

// EstimateUsage derives a rough usage snapshot from final content length,
// used as a last resort when the vendor reported no usage at all. The
// snapshot is tagged Estimated so consumers can distinguish it from measured
// counters.
//
// The chars-per-token divisor comes from Options (default 4, the usual
// rule of thumb for English text).
func EstimateUsage(contentChars int, charsPerToken int) *UsageSnapshot {
	if charsPerToken <= 0 {
		charsPerToken = DefaultOptions().EstimateCharsPerToken
	}
	out := contentChars / charsPerToken
	return &UsageSnapshot{
		OutputTokens: out,
		TotalTokens:  out,
		Estimated:    true,
	}
}

// AccumulateUsage sums the usage snapshots of every message in the
// conversation field-wise. Messages without usage contribute nothing. The
// result is tagged Estimated if any contributing snapshot was an estimate.
func AccumulateUsage(messages []*Message) UsageSnapshot {
	var total UsageSnapshot
	for _, msg := range messages {
		if msg == nil || msg.Usage == nil {
			continue
		}
		u := msg.Usage
		total.InputTokens += u.InputTokens
		total.OutputTokens += u.OutputTokens
		total.TotalTokens += u.TotalTokens
		total.ThinkingTokens += u.ThinkingTokens
		total.CacheWriteTokens += u.CacheWriteTokens
		total.CacheReadTokens += u.CacheReadTokens
		if u.Estimated {
			total.Estimated = true
		}
	}
	return total
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
