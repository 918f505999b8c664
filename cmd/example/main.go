// Command example runs a small workload against a pool of simulated
// network connections, with pprof enabled so the pool's lock and
// goroutine behavior can be inspected under load the same way the
// original connection-pool demo did.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlexsanderHamir/objpool/pool"
)

type conn struct {
	id int
}

type connFactory struct {
	nextID atomic.Int64
}

func (f *connFactory) Make(ctx context.Context) (*conn, error) {
	return &conn{id: int(f.nextID.Add(1))}, nil
}

func (f *connFactory) Destroy(ctx context.Context, c *conn) error {
	return nil
}

func (f *connFactory) Validate(ctx context.Context, c *conn) bool {
	return true
}

func (f *connFactory) Activate(ctx context.Context, c *conn) error {
	return nil
}

func (f *connFactory) Passivate(ctx context.Context, c *conn) error {
	return nil
}

func main() {
	enableProfiling()

	fmt.Println("[PPROF] Ready to profile at http://localhost:6060/debug/pprof/")

	cfg, err := pool.NewConfigBuilder().
		SetMaxTotal(50).
		SetMinIdle(5).
		SetTestWhileIdle(true).
		SetTimeBetweenEvictionRuns(time.Second).
		SetMinEvictableIdleTime(30 * time.Second).
		SetVerbose(true).
		Build()
	if err != nil {
		log.Fatalf("building pool config: %v", err)
	}

	p, err := pool.New(cfg, &connFactory{})
	if err != nil {
		log.Fatalf("creating pool: %v", err)
	}
	defer p.Close()

	runWorkload(p)

	fmt.Println("[DONE] Workload finished")
	fmt.Printf("%+v\n", p.Stats())
}

func enableProfiling() {
	go func() {
		log.Println("[PPROF] Server running on :6060")
		_ = http.ListenAndServe("localhost:6060", nil)
	}()
}

func runWorkload(p *pool.Pool[*conn]) {
	var wg sync.WaitGroup
	workers := 20
	iterations := 2000
	ctx := context.Background()

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				c, err := p.Borrow(ctx, 200*time.Millisecond)
				if err != nil {
					continue
				}
				_ = c.id
				_ = p.Return(ctx, c)
			}
		}()
	}

	wg.Wait()
}
