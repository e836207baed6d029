package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestConsumeWithinLimit(t *testing.T) {
	store := NewStore(time.Minute, 3)

	for i := 0; i < 3; i++ {
		result := store.Consume("1.2.3.4")
		if !result.Allowed {
			t.Fatalf("request %d bị chặn dù chưa vượt ngưỡng", i+1)
		}
		if result.Remaining != 3-(i+1) {
			t.Errorf("remaining = %d sau request %d, muốn %d", result.Remaining, i+1, 3-(i+1))
		}
	}

	result := store.Consume("1.2.3.4")
	if result.Allowed {
		t.Error("request thứ 4 được cho qua dù ngưỡng là 3")
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d khi đã chạm ngưỡng, muốn 0", result.Remaining)
	}
}

func TestConsumeKeysAreIndependent(t *testing.T) {
	store := NewStore(time.Minute, 1)

	if !store.Consume("a").Allowed {
		t.Fatal("key a bị chặn ngay lượt đầu")
	}
	if store.Consume("a").Allowed {
		t.Error("key a được cho qua lượt 2 dù ngưỡng 1")
	}
	if !store.Consume("b").Allowed {
		t.Error("key b bị chặn vì lượt đếm của key a")
	}
}

func TestWindowResets(t *testing.T) {
	store := NewStore(20*time.Millisecond, 1)

	if !store.Consume("x").Allowed {
		t.Fatal("lượt đầu bị chặn")
	}
	if store.Consume("x").Allowed {
		t.Fatal("lượt 2 trong cùng cửa sổ được cho qua")
	}

	time.Sleep(30 * time.Millisecond)
	if !store.Consume("x").Allowed {
		t.Error("cửa sổ mới nhưng vẫn bị chặn")
	}
}

func TestCleanupRemovesExpiredBuckets(t *testing.T) {
	store := NewStore(10*time.Millisecond, 5)
	store.Consume("stale")
	time.Sleep(20 * time.Millisecond)
	store.Consume("fresh")

	store.Cleanup()

	store.mu.Lock()
	_, staleExists := store.buckets["stale"]
	_, freshExists := store.buckets["fresh"]
	store.mu.Unlock()

	if staleExists {
		t.Error("bucket hết cửa sổ không bị dọn")
	}
	if !freshExists {
		t.Error("bucket còn hiệu lực bị dọn nhầm")
	}
}

func TestConsumeConcurrent(t *testing.T) {
	store := NewStore(time.Minute, 100)

	var wg sync.WaitGroup
	allowed := make([]bool, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			allowed[idx] = store.Consume("shared").Allowed
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range allowed {
		if ok {
			count++
		}
	}
	if count != 100 {
		t.Errorf("%d request được cho qua, muốn đúng 100", count)
	}
}
