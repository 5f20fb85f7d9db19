package parity

import "sync"

// CheckpointResult is the verdict for one matching checkpoint pair.
type CheckpointResult struct {
	Index  int            `json:"index"`
	Match  bool           `json:"match"`
	Live   HashCheckpoint `json:"live"`
	Replay HashCheckpoint `json:"replay"`
}

// Incremental layers checkpoint-pair verification on a Tracker so long
// replays surface a pass/fail verdict at every chunk boundary instead
// of only at completion. The final full-stream check stays available
// through Verify.
type Incremental struct {
	tracker *Tracker

	mu       sync.Mutex
	verified int
	results  []CheckpointResult
	onResult func(CheckpointResult)
}

// NewIncremental wraps a tracker.
func NewIncremental(tracker *Tracker) *Incremental {
	return &Incremental{tracker: tracker}
}

// OnCheckpoint registers a handler invoked for each newly comparable
// checkpoint pair.
func (inc *Incremental) OnCheckpoint(fn func(CheckpointResult)) {
	inc.mu.Lock()
	inc.onResult = fn
	inc.mu.Unlock()
}

// AddLive feeds the live side and compares any newly closed pairs.
func (inc *Incremental) AddLive(msg any, tsMs int64) error {
	if err := inc.tracker.AddLive(msg, tsMs); err != nil {
		return err
	}
	inc.compare()
	return nil
}

// AddReplay feeds the replay side and compares any newly closed pairs.
func (inc *Incremental) AddReplay(msg any, tsMs int64) error {
	if err := inc.tracker.AddReplay(msg, tsMs); err != nil {
		return err
	}
	inc.compare()
	return nil
}

// Results returns the checkpoint verdicts gathered so far.
func (inc *Incremental) Results() []CheckpointResult {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	out := make([]CheckpointResult, len(inc.results))
	copy(out, inc.results)
	return out
}

// Verify performs the final full-stream check.
func (inc *Incremental) Verify() Result {
	return inc.tracker.Verify()
}

func (inc *Incremental) compare() {
	liveCPs := inc.tracker.Live().Checkpoints()
	replayCPs := inc.tracker.Replay().Checkpoints()
	avail := len(liveCPs)
	if len(replayCPs) < avail {
		avail = len(replayCPs)
	}

	inc.mu.Lock()
	var fresh []CheckpointResult
	for i := inc.verified; i < avail; i++ {
		result := CheckpointResult{
			Index:  i,
			Match:  liveCPs[i].HashValue == replayCPs[i].HashValue,
			Live:   liveCPs[i],
			Replay: replayCPs[i],
		}
		inc.results = append(inc.results, result)
		fresh = append(fresh, result)
	}
	inc.verified = avail
	handler := inc.onResult
	inc.mu.Unlock()

	if handler != nil {
		for _, result := range fresh {
			handler(result)
		}
	}
}
