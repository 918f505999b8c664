package pool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// maybeRunAbandonmentSweep runs the abandonment detector from the
// evictor tick, if configured to do so.
func (p *Pool[T]) maybeRunAbandonmentSweep() {
	if p.config.abandoned == nil || !p.config.abandoned.RemoveAbandonedOnMaintenance {
		return
	}
	p.runAbandonmentSweep()
}

// maybeRunAbandonmentOnBorrow runs the detector inline from Borrow when
// the pool is near starvation, so a caller doesn't have to wait out a
// full maintenance interval before starved capacity is reclaimed.
func (p *Pool[T]) maybeRunAbandonmentOnBorrow() {
	if p.config.abandoned == nil || !p.config.abandoned.RemoveAbandonedOnBorrow {
		return
	}

	idle := p.idle.len()
	active := p.numActive()
	nearStarvation := idle < 2 && (p.config.maxTotal < 0 || active > p.config.maxTotal-3)
	if !nearStarvation {
		return
	}
	p.runAbandonmentSweep()
}

// runAbandonmentSweep scans the all-objects index for instances held
// ALLOCATED past abandonedTimeout. The state transition happens under
// each wrapper's own mutex during the scan, and the actual
// Factory.Destroy call happens afterward, outside any lock.
func (p *Pool[T]) runAbandonmentSweep() {
	p.abandonMu.Lock()
	defer p.abandonMu.Unlock()

	timeout := p.config.abandoned.RemoveAbandonedTimeout
	now := time.Now()

	p.allObjectsMu.RLock()
	candidates := make([]*pooledObject[T], 0, len(p.allObjects))
	for _, obj := range p.allObjects {
		candidates = append(candidates, obj)
	}
	p.allObjectsMu.RUnlock()

	var reclaimed []*pooledObject[T]
	for _, obj := range candidates {
		if obj.markAbandoned(now, timeout) {
			reclaimed = append(reclaimed, obj)
		}
	}

	ctx := context.Background()
	for _, obj := range reclaimed {
		p.logf(logrus.WarnLevel, logrus.Fields{"id": obj.id}, "reclaiming abandoned instance, idle %s since last use", now.Sub(obj.lastUse()))
		p.removeFromAllObjects(obj)
		p.destroyWrapper(ctx, obj, false)
		p.stats.recordAbandoned()
	}
}
