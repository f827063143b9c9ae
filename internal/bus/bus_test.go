package bus_test

import (
	"sync"
	"testing"

	"github.com/havenark/wiggly/internal/bus"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := bus.New()

	var order []int
	b.Subscribe("t", func(_ map[string]interface{}) { order = append(order, 1) })
	b.Subscribe("t", func(_ map[string]interface{}) { order = append(order, 2) })

	b.Publish("t", map[string]interface{}{"k": "v"})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected delivery order [1 2], got %v", order)
	}
}

func TestPublishOnlyMatchingTopic(t *testing.T) {
	b := bus.New()

	var hits int
	b.Subscribe("a", func(_ map[string]interface{}) { hits++ })
	b.Subscribe("b", func(_ map[string]interface{}) { t.Error("topic b should not fire") })

	b.Publish("a", nil)
	b.Publish("c", nil)

	if hits != 1 {
		t.Errorf("expected 1 delivery, got %d", hits)
	}
}

func TestPublishWithNoSubscribersIsSafe(t *testing.T) {
	b := bus.New()
	b.Publish("nobody.listens", map[string]interface{}{"k": "v"})
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	b := bus.New()

	var mu sync.Mutex
	seen := 0
	b.Subscribe("t", func(_ map[string]interface{}) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish("t", nil)
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Subscribe("other", func(_ map[string]interface{}) {})
		}()
	}
	wg.Wait()

	if seen != 10 {
		t.Errorf("expected 10 deliveries, got %d", seen)
	}
}
