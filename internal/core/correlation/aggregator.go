package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hive-corporation/threatscope/internal/core/domain"
	"github.com/hive-corporation/threatscope/internal/core/ports"
)

// Aggregator fans one indicator out to every configured connector and the
// reasoning backend under a shared deadline. Per-source failures become
// findings with a failure status; nothing a single source does can abort
// the gather.
type Aggregator struct {
	connectors []ports.Connector
	reasoner   ports.Reasoner // nil when the reasoning backend is disabled
	log        *logrus.Logger
}

func NewAggregator(connectors []ports.Connector, reasoner ports.Reasoner, log *logrus.Logger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{connectors: connectors, reasoner: reasoner, log: log}
}

// Gather queries all sources concurrently and returns their findings in
// configuration order, reasoning backend last. It returns when every source
// has responded or the context deadline has fired, whichever comes first;
// calls still in flight at the deadline are abandoned and recorded as
// timeout findings.
//
// The reasoner waits for the connectors to settle so its prompt can be
// grounded on their labels; if none respond in time it is queried with the
// bare indicator.
func (a *Aggregator) Gather(ctx context.Context, ioc domain.IOC) []domain.SourceFinding {
	n := len(a.connectors)
	total := n
	if a.reasoner != nil {
		total++
	}
	findings := make([]domain.SourceFinding, total)

	var mu sync.Mutex
	labelSet := make(map[string]bool)
	var labels []string

	var connectorWG sync.WaitGroup
	connectorsDone := make(chan struct{})

	for i, c := range a.connectors {
		connectorWG.Add(1)
		go func(i int, c ports.Connector) {
			defer connectorWG.Done()
			f := a.fetchOne(ctx, c, ioc)
			findings[i] = f
			if f.Status == domain.StatusOK {
				mu.Lock()
				for _, l := range f.Labels {
					if !labelSet[l] {
						labelSet[l] = true
						labels = append(labels, l)
					}
				}
				mu.Unlock()
			}
		}(i, c)
	}
	go func() {
		connectorWG.Wait()
		close(connectorsDone)
	}()

	var reasonerWG sync.WaitGroup
	if a.reasoner != nil {
		reasonerWG.Add(1)
		go func() {
			defer reasonerWG.Done()
			select {
			case <-connectorsDone:
			case <-ctx.Done():
			}
			mu.Lock()
			known := append([]string(nil), labels...)
			mu.Unlock()
			findings[n] = a.reason(ctx, ioc, known)
		}()
	}

	<-connectorsDone
	reasonerWG.Wait()
	return findings
}

// fetchOne runs a single connector call and converts every outcome into a
// finding. The call runs in its own goroutine so a connector that ignores
// cancellation can be abandoned when the deadline fires.
func (a *Aggregator) fetchOne(ctx context.Context, c ports.Connector, ioc domain.IOC) domain.SourceFinding {
	start := time.Now()
	type result struct {
		finding domain.SourceFinding
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := c.Fetch(ctx, ioc)
		ch <- result{finding: f, err: err}
	}()

	select {
	case r := <-ch:
		latency := time.Since(start)
		if r.err != nil {
			status := domain.StatusError
			if errors.Is(r.err, context.DeadlineExceeded) {
				status = domain.StatusTimeout
			}
			a.log.WithFields(logrus.Fields{"source": c.Name(), "error": r.err}).Warn("⚠️  source query failed")
			return domain.SourceFinding{SourceID: c.Name(), Status: status, Latency: latency}
		}
		f := r.finding
		f.SourceID = c.Name()
		if f.Status == "" {
			f.Status = domain.StatusOK
		}
		f.Latency = latency
		return f
	case <-ctx.Done():
		a.log.WithField("source", c.Name()).Warn("⏱️  source abandoned at deadline")
		return domain.SourceFinding{SourceID: c.Name(), Status: domain.StatusTimeout, Latency: time.Since(start)}
	}
}

func (a *Aggregator) reason(ctx context.Context, ioc domain.IOC, known []string) domain.SourceFinding {
	start := time.Now()
	name := a.reasoner.Name()

	rr, err := a.reasoner.Reason(ctx, ioc, known)
	latency := time.Since(start)
	if err != nil {
		status := domain.StatusError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = domain.StatusTimeout
		case errors.Is(err, domain.ErrReasonerDisabled):
			status = domain.StatusUnavailable
		}
		a.log.WithFields(logrus.Fields{"source": name, "error": err}).Warn("⚠️  reasoning backend failed")
		return domain.SourceFinding{SourceID: name, Status: status, Latency: latency}
	}

	payload, _ := json.Marshal(rr)
	confidence := rr.Confidence
	return domain.SourceFinding{
		SourceID:   name,
		Status:     domain.StatusOK,
		Confidence: &confidence,
		Labels:     rr.Labels,
		RawPayload: payload,
		Latency:    latency,
	}
}
