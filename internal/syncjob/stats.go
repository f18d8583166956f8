package syncjob

import (
	"github.com/Genoma-Agency/db-sync/internal/logging"
)

// progressTicker reports phase progress at an adaptive rate — every 100 /
// 1,000 / 10,000 / 100,000 rows by magnitude, and always at chunk
// boundaries and at completion. Since TableJob runs its phases
// sequentially, one counter per phase is enough; no channel-fed
// aggregator is needed.
type progressTicker struct {
	table     string
	phase     string
	total     int
	done      int
	lastTick  int
}

func newProgressTicker(table, phase string, total int) *progressTicker {
	return &progressTicker{table: table, phase: phase, total: total}
}

func tickThreshold(n int) int {
	switch {
	case n < 1000:
		return 100
	case n < 10000:
		return 1000
	case n < 100000:
		return 10000
	default:
		return 100000
	}
}

// Add records n more rows processed and logs a rate tick if the adaptive
// threshold was crossed.
func (p *progressTicker) Add(n int) {
	p.done += n
	if p.done-p.lastTick >= tickThreshold(p.total) {
		p.lastTick = p.done
		logging.Infof("%s: %s %d/%d", p.table, p.phase, p.done, p.total)
	}
}

// ChunkBoundary always logs, regardless of the adaptive threshold.
func (p *progressTicker) ChunkBoundary() {
	p.lastTick = p.done
	logging.Infof("%s: %s %d/%d (chunk boundary)", p.table, p.phase, p.done, p.total)
}

// Done always logs at completion.
func (p *progressTicker) Done() {
	logging.Infof("%s: %s done, %d rows", p.table, p.phase, p.done)
}
