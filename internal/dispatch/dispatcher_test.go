package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"gap-scanner/internal/model"
)

func testAlert(id string) model.Alert {
	return model.Alert{ID: id, Symbol: "SYM", Type: model.AlertToppingTail5m, Price: 4.92}
}

func TestFireDeduplicates(t *testing.T) {
	d := New()
	var got []string
	d.Subscribe(func(a model.Alert) { got = append(got, a.ID) })

	a := testAlert("SYM-1-0-ToppingTail5m")
	assert.True(t, d.Fire(a))
	assert.False(t, d.Fire(a), "second fire of the same id must be rejected")
	assert.Equal(t, []string{a.ID}, got, "exactly one notification")
}

func TestFireOrderAndIsolation(t *testing.T) {
	d := New()
	var order []string
	d.Subscribe(func(model.Alert) { order = append(order, "first") })
	d.Subscribe(func(model.Alert) { panic("subscriber blew up") })
	d.Subscribe(func(model.Alert) { order = append(order, "third") })

	assert.True(t, d.Fire(testAlert("a-1-0-x")))
	assert.Equal(t, []string{"first", "third"}, order,
		"a panicking subscriber must not break the fan-out")
}

func TestUnsubscribe(t *testing.T) {
	d := New()
	calls := 0
	unsub := d.Subscribe(func(model.Alert) { calls++ })

	d.Fire(testAlert("a-1-0-x"))
	unsub()
	d.Fire(testAlert("a-2-0-x"))
	assert.Equal(t, 1, calls)
}

func TestEviction(t *testing.T) {
	d := New()

	for i := 0; i < 1001; i++ {
		assert.True(t, d.Fire(testAlert(fmt.Sprintf("SYM-%d-0-x", i))))
	}
	// Crossing 1000 evicts the oldest 500.
	assert.Equal(t, 501, d.SeenCount())

	// Evicted ids fire again; retained ones stay deduped.
	assert.True(t, d.Fire(testAlert("SYM-0-0-x")), "evicted id should be accepted again")
	assert.False(t, d.Fire(testAlert("SYM-1000-0-x")), "retained id stays deduped")
}

func TestReset(t *testing.T) {
	d := New()
	a := testAlert("SYM-1-0-x")
	d.Fire(a)
	d.Reset()
	assert.True(t, d.Fire(a), "reset must clear the dedupe set")
}

func TestOnDuplicateHook(t *testing.T) {
	d := New()
	dups := 0
	d.OnDuplicate = func() { dups++ }

	a := testAlert("SYM-1-0-x")
	d.Fire(a)
	d.Fire(a)
	d.Fire(a)
	assert.Equal(t, 2, dups)
}
