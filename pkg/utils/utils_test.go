package utils

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesTriggers(t *testing.T) {
	d := NewDebouncer(40 * time.Millisecond)
	var calls int32
	var last int32

	for i := 1; i <= 20; i++ {
		v := int32(i)
		d.Trigger(func() {
			atomic.AddInt32(&calls, 1)
			atomic.StoreInt32(&last, v)
		})
		time.Sleep(2 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(20), atomic.LoadInt32(&last))
	assert.False(t, d.Pending())
}

func TestDebouncer_TriggerExtendsWindow(t *testing.T) {
	d := NewDebouncer(60 * time.Millisecond)
	var calls int32
	fn := func() { atomic.AddInt32(&calls, 1) }

	d.Trigger(fn)
	time.Sleep(40 * time.Millisecond)
	d.Trigger(fn)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "second trigger restarts the quiet period")
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls int32
	d.Trigger(func() { atomic.AddInt32(&calls, 1) })

	assert.True(t, d.Pending())
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDebouncer_Flush(t *testing.T) {
	d := NewDebouncer(time.Hour)
	var calls int32
	d.Trigger(func() { atomic.AddInt32(&calls, 1) })

	assert.True(t, d.Flush())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, d.Flush())
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var calls int32
	d.Stop()
	d.Trigger(func() { atomic.AddInt32(&calls, 1) })

	assert.False(t, d.Pending())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestValidateStruct(t *testing.T) {
	type inner struct {
		Name string `validate:"required"`
	}
	type request struct {
		ID    string  `validate:"required,max=4"`
		Kind  string  `validate:"omitempty,oneof=a b"`
		Items []inner `validate:"dive"`
	}

	tests := []struct {
		name   string
		in     request
		fields []string
	}{
		{name: "valid", in: request{ID: "x", Kind: "a", Items: []inner{{Name: "n"}}}},
		{name: "missing id", in: request{}, fields: []string{"id"}},
		{name: "too long and bad kind", in: request{ID: "abcdef", Kind: "z"}, fields: []string{"id", "kind"}},
		{name: "nested", in: request{ID: "x", Items: []inner{{}}}, fields: []string{"items[0].name"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.in)
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			fields := verrs.Fields()
			for _, f := range tt.fields {
				assert.Contains(t, fields, f)
			}
		})
	}
}
