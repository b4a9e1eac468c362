package mirror

import (
	"sync"
	"testing"
)

func TestProgress_Record(t *testing.T) {
	p := NewProgress(40)

	if got := p.Record(10); got != 25 {
		t.Errorf("Record(10) = %v, want 25", got)
	}
	if got := p.Record(30); got != 100 {
		t.Errorf("Record(30) = %v, want 100", got)
	}
	if p.Uploaded() != 40 || p.Total() != 40 {
		t.Errorf("Uploaded/Total = %d/%d", p.Uploaded(), p.Total())
	}
}

func TestProgress_EmptyTotal(t *testing.T) {
	p := NewProgress(0)
	if got := p.Record(0); got != 100 {
		t.Errorf("Record on empty total = %v, want 100", got)
	}
}

func TestProgress_IndependentInstances(t *testing.T) {
	a := NewProgress(10)
	b := NewProgress(10)
	a.Record(5)
	if b.Uploaded() != 0 {
		t.Error("progress leaked between instances")
	}
}

func TestProgress_Concurrent(t *testing.T) {
	p := NewProgress(1000)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Record(10)
		}()
	}
	wg.Wait()

	if p.Uploaded() != 1000 {
		t.Errorf("Uploaded = %d, want 1000", p.Uploaded())
	}
	if got := p.Record(0); got != 100 {
		t.Errorf("final percent = %v, want 100", got)
	}
}
