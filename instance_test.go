package hsm

import (
	"errors"
	"fmt"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	log []string
}

func (tr *trace) mark(label string) Callback[*trace] {
	return ActionWith(func(r *trace) error {
		r.log = append(r.log, label)
		return nil
	})
}

func TestTransitionRunsExitActionEntryInOrder(t *testing.T) {
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		OnExit(tr.mark("exit:a")).
		On("go").
		Do(tr.mark("action")).
		GoTo("b")
	b.State("b").
		OnEntry(tr.mark("entry:b"))

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Fire("go"))
	assert.Equal(t, []string{"action", "exit:a", "entry:b"}, tr.log)
	assert.Equal(t, "b", inst.CurrentState())
}

func TestFireQueueIsStrictlyFIFO(t *testing.T) {
	tr := &trace{}
	var inst *Instance[string, string, *trace]

	b := NewBuilder[string, string, *trace]().Initial("s1")
	b.State("s1").
		On("next").
		Do(ActionWith(func(r *trace) error {
			r.log = append(r.log, "run:next@s1")
			// enqueued mid-run: must wait for every already-queued event
			return inst.Fire("extra")
		})).
		GoTo("s2")
	b.State("s2").
		On("next").
		Do(tr.mark("run:next@s2")).
		GoTo("s3")
	b.State("s3").
		On("extra").
		Do(tr.mark("run:extra@s3")).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err = f.Create(tr)
	require.NoError(t, err)

	// first Fire drives the loop; the second event is already queued before
	// the callback enqueues a third
	require.NoError(t, inst.Fire("next"))
	require.NoError(t, inst.Fire("next"))
	require.NoError(t, inst.Fire("next")) // queue is empty again, drives alone

	assert.Equal(t, []string{"run:next@s1", "run:next@s2", "run:extra@s3"}, tr.log[:3])
	assert.Equal(t, "s3", inst.CurrentState())
}

func TestReentrantFireOnlyEnqueues(t *testing.T) {
	tr := &trace{}
	var inst *Instance[string, string, *trace]

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").
		Do(ActionWith(func(r *trace) error {
			if err := inst.Fire("follow"); err != nil {
				return err
			}
			// the nested fire must not have run yet
			r.log = append(r.log, "first-still-running")
			return nil
		})).
		GoTo("b")
	b.State("b").
		On("follow").
		Do(tr.mark("follow")).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err = f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Fire("go"))
	assert.Equal(t, []string{"first-still-running", "follow"}, tr.log)
}

func TestFireImmediatelyPreemptsQueue(t *testing.T) {
	tr := &trace{}
	var inst *Instance[string, string, *trace]

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").
		Do(ActionWith(func(r *trace) error {
			if err := inst.Fire("queued"); err != nil {
				return err
			}
			// urgent runs now, before "queued" even though it enqueued first
			return inst.FireImmediately("urgent")
		})).
		GoTo("b")
	b.State("a").
		On("urgent").
		Do(ActionWith(func(r *trace) error {
			r.log = append(r.log, "urgent")
			// events fired inside the immediate run drain with it
			return inst.Fire("urgent-child")
		})).
		Stay()
	b.State("a").
		On("urgent-child").
		Do(tr.mark("urgent-child")).
		Stay()
	b.State("b").
		On("queued").
		Do(tr.mark("queued")).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err = f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Fire("go"))
	assert.Equal(t, []string{"urgent", "urgent-child", "queued"}, tr.log)
	assert.Equal(t, "b", inst.CurrentState())
}

func TestFireImmediatelyOutsideLoopActsLikeFire(t *testing.T) {
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").Do(tr.mark("go")).GoTo("b")
	b.State("b")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.FireImmediately("go"))
	assert.Equal(t, "b", inst.CurrentState())
}

func TestFireImmediatelyErrorReleasesOnlySubRun(t *testing.T) {
	tr := &trace{}
	var inst *Instance[string, string, *trace]
	boom := errors.New("boom")
	var immediateErr error

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").
		Do(ActionWith(func(r *trace) error {
			if err := inst.Fire("queued-outer"); err != nil {
				return err
			}
			// the urgent run fails; its own pending work must vanish while
			// "queued-outer" stays scheduled
			immediateErr = inst.FireImmediately("urgent")
			return nil
		})).
		Stay().
		On("urgent").
		Do(ActionWith(func(r *trace) error {
			if err := inst.Fire("urgent-child", "payload"); err != nil {
				return err
			}
			return boom
		})).
		Stay().
		On("urgent-child").
		Do(tr.mark("urgent-child")).
		Stay().
		On("queued-outer").
		Do(tr.mark("queued-outer")).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err = f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Fire("go"))
	require.ErrorIs(t, immediateErr, boom)
	assert.Equal(t, []string{"queued-outer"}, tr.log,
		"the failed sub-run's pending event must not run; the outer queue must")
	assert.Equal(t, 0, inst.events.Len())
	assert.Equal(t, 0, inst.args.Len())
}

func TestFireImmediatelyErrorPropagatesThroughOuterLoop(t *testing.T) {
	tr := &trace{}
	var inst *Instance[string, string, *trace]
	boom := errors.New("boom")

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").
		Do(ActionWith(func(r *trace) error {
			if err := inst.Fire("queued-outer"); err != nil {
				return err
			}
			return inst.FireImmediately("urgent")
		})).
		Stay().
		On("urgent").
		Do(ActionWith(func(r *trace) error { return boom })).
		Stay().
		On("queued-outer").
		Do(tr.mark("queued-outer")).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err = f.Create(tr)
	require.NoError(t, err)

	// the outer action returns the error, so the outer queue drains too
	require.ErrorIs(t, inst.Fire("go"), boom)
	assert.Empty(t, tr.log)
	assert.Equal(t, 0, inst.events.Len())
	assert.Equal(t, 0, inst.args.Len())

	require.NoError(t, inst.Fire("queued-outer"))
	assert.Equal(t, []string{"queued-outer"}, tr.log)
}

func TestUpdateRunsAncestorsFirst(t *testing.T) {
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("leaf")
	b.State("root").
		OnUpdate(tr.mark("update:root"))
	b.State("mid").
		SubstateOf("root").
		OnUpdate(tr.mark("update:mid"))
	b.State("leaf").
		SubstateOf("mid").
		OnUpdate(tr.mark("update:leaf"))

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Update())
	assert.Equal(t, []string{"update:root", "update:mid", "update:leaf"}, tr.log)
}

func TestUpdateStopsOnError(t *testing.T) {
	tr := &trace{}
	boom := errors.New("boom")

	b := NewBuilder[string, string, *trace]().Initial("leaf")
	b.State("root").
		OnUpdate(Action[*trace](func() error { return boom }))
	b.State("leaf").
		SubstateOf("root").
		OnUpdate(tr.mark("update:leaf"))

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	err = inst.Update()
	require.ErrorIs(t, err, boom)
	assert.Empty(t, tr.log)
}

func TestEventNotAcceptedLeavesStateUntouched(t *testing.T) {
	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(&trace{})
	require.NoError(t, err)

	err = inst.Fire("nope")
	require.Error(t, err)
	assert.True(t, IsEventNotAccepted(err))
	assert.Equal(t, "a", inst.CurrentState())
	assert.Equal(t, 0, inst.events.Len())
	assert.Equal(t, 0, inst.args.Len())
}

func TestErrorDrainsRemainingQueue(t *testing.T) {
	tr := &trace{}
	var inst *Instance[string, string, *trace]
	boom := errors.New("boom")

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("fail").
		Do(ActionWith(func(r *trace) error {
			if err := inst.Fire("later"); err != nil {
				return err
			}
			return boom
		})).
		Stay().
		On("later").
		Do(tr.mark("later")).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err = f.Create(tr)
	require.NoError(t, err)

	require.ErrorIs(t, inst.Fire("fail"), boom)
	assert.Empty(t, tr.log, "queued event must be discarded after an error")
	assert.Equal(t, 0, inst.events.Len())
	assert.Equal(t, 0, inst.args.Len())

	// the instance stays usable
	require.NoError(t, inst.Fire("later"))
	assert.Equal(t, []string{"later"}, tr.log)
}

func TestEntryErrorCommitsDestinationState(t *testing.T) {
	boom := errors.New("boom")

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").GoTo("b")
	b.State("b").
		OnEntry(Action[*trace](func() error { return boom }))

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(&trace{})
	require.NoError(t, err)

	require.ErrorIs(t, inst.Fire("go"), boom)
	// the state index commits between exit and entry
	assert.Equal(t, "b", inst.CurrentState())
}

func TestExitErrorKeepsSourceState(t *testing.T) {
	boom := errors.New("boom")

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		OnExit(Action[*trace](func() error { return boom })).
		On("go").GoTo("b")
	b.State("b")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(&trace{})
	require.NoError(t, err)

	require.ErrorIs(t, inst.Fire("go"), boom)
	assert.Equal(t, "a", inst.CurrentState())
}

func TestGoToSelfRunsExitAndEntry(t *testing.T) {
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		OnEntry(tr.mark("entry:a")).
		OnExit(tr.mark("exit:a")).
		On("reset").GoToSelf().
		On("noop").Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Fire("reset"))
	assert.Equal(t, []string{"exit:a", "entry:a"}, tr.log)

	tr.log = nil
	require.NoError(t, inst.Fire("noop"))
	assert.Empty(t, tr.log)
}

func TestGuardChainPicksFirstMatch(t *testing.T) {
	type creature struct {
		health int
	}

	build := func(c *creature) *Instance[string, string, *creature] {
		b := NewBuilder[string, string, *creature]().Initial("sleep")
		b.State("sleep").
			On("wake").
			If(CheckWith(func(c *creature) bool { return c.health <= 50 }), func(br *Branch[string, string, *creature]) {
				br.Stay()
			}).
			If(CheckWith(func(c *creature) bool { return c.health <= 75 }), func(br *Branch[string, string, *creature]) {
				br.GoTo("gather")
			}).
			GoTo("hunt")
		b.State("gather")
		b.State("hunt")

		f, err := b.Finalize()
		require.NoError(t, err)
		inst, err := f.Create(c)
		require.NoError(t, err)
		return inst
	}

	tests := []struct {
		health int
		want   string
	}{
		{50, "sleep"},
		{75, "gather"},
		{76, "hunt"},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("health=%d", tc.health), func(t *testing.T) {
			inst := build(&creature{health: tc.health})
			require.NoError(t, inst.Fire("wake"))
			assert.Equal(t, tc.want, inst.CurrentState())
		})
	}
}

func TestTypedArgumentsMatchByConcreteType(t *testing.T) {
	type payload struct {
		n int
	}
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").
		Do(ActionArg[*trace](func(p payload) error {
			tr.log = append(tr.log, fmt.Sprintf("payload:%d", p.n))
			return nil
		})).
		Do(ActionArg[*trace](func(s string) error {
			tr.log = append(tr.log, "string:"+s)
			return nil
		})).
		Do(ActionArg[*trace](func(f float64) error {
			tr.log = append(tr.log, "float: should never run")
			return nil
		})).
		If(CheckArg[*trace](func(n int) bool { return n > 10 }), func(br *Branch[string, string, *trace]) {
			br.GoTo("b")
		}).
		Stay()
	b.State("b")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	// first int wins for the guard even with a second int behind it
	require.NoError(t, inst.Fire("go", "hello", payload{n: 7}, 42, 3))
	assert.Equal(t, []string{"payload:7", "string:hello"}, tr.log)
	assert.Equal(t, "b", inst.CurrentState())
}

func TestMissingArgumentTypeSkipsCallbackAndFailsGuard(t *testing.T) {
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").
		Do(ActionArg[*trace](func(n int) error {
			tr.log = append(tr.log, "int action")
			return nil
		})).
		If(CheckArg[*trace](func(n int) bool { return true }), func(br *Branch[string, string, *trace]) {
			br.GoTo("b")
		}).
		Stay()
	b.State("b")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Fire("go", "only-a-string"))
	assert.Empty(t, tr.log, "unmatched typed action must be a no-op")
	assert.Equal(t, "a", inst.CurrentState(), "unmatched typed guard must fall through")
}

func TestQueuedEventsKeepTheirOwnArguments(t *testing.T) {
	tr := &trace{}
	var inst *Instance[string, string, *trace]

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("first").
		Do(ActionArg[*trace](func(s string) error {
			tr.log = append(tr.log, "first:"+s)
			return inst.Fire("second", "beta")
		})).
		Stay().
		On("second").
		Do(ActionArg[*trace](func(s string) error {
			tr.log = append(tr.log, "second:"+s)
			return nil
		})).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err = f.Create(tr)
	require.NoError(t, err)

	require.NoError(t, inst.Fire("first", "alpha"))
	assert.Equal(t, []string{"first:alpha", "second:beta"}, tr.log)
	assert.Equal(t, 0, inst.args.Len())
}

func TestPanicCaptureConvertsToError(t *testing.T) {
	b := NewBuilder[string, string, *trace]().
		Initial("a").
		WithPanicCapture(true)
	b.State("a").
		On("go").
		Do(Action[*trace](func() error { panic("kaboom") })).
		GoTo("b")
	b.State("b")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(&trace{})
	require.NoError(t, err)

	err = inst.Fire("go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback panic")

	var ge *apperrors.Error
	require.True(t, errors.As(err, &ge))
	pe, ok := ge.Source.(*PanicError)
	require.True(t, ok)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	// the action ran before any terminator, so no transition happened
	assert.Equal(t, "a", inst.CurrentState())
	assert.Equal(t, 0, inst.events.Len())
}

func TestPanicPropagatesWithoutCapture(t *testing.T) {
	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a").
		On("go").
		Do(Action[*trace](func() error { panic("kaboom") })).
		Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(&trace{})
	require.NoError(t, err)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = inst.Fire("go")
	})
	// the drive defer still cleans the queue
	assert.Equal(t, 0, inst.events.Len())
	assert.False(t, inst.running)
}

func TestGuardPanicCapture(t *testing.T) {
	b := NewBuilder[string, string, *trace]().
		Initial("a").
		WithPanicCapture(true)
	b.State("a").
		On("go").
		If(Check[*trace](func() bool { panic("guard boom") }), func(br *Branch[string, string, *trace]) {
			br.GoTo("b")
		}).
		Stay()
	b.State("b")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(&trace{})
	require.NoError(t, err)

	err = inst.Fire("go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guard panic")
	assert.Equal(t, "a", inst.CurrentState())
}

func TestTransitionPolicyOverridesPerTransition(t *testing.T) {
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("a1")
	b.State("root").
		OnEntry(tr.mark("entry:root")).
		OnExit(tr.mark("exit:root"))
	b.State("a1").
		SubstateOf("root").
		OnEntry(tr.mark("entry:a1")).
		OnExit(tr.mark("exit:a1")).
		On("hop").GoTo("a2").
		On("hop-loud").
		WithExitPolicy(PolicyChildFirst).
		WithEntryPolicy(PolicyParentFirst).
		GoTo("a2")
	b.State("a2").
		SubstateOf("root").
		OnEntry(tr.mark("entry:a2")).
		OnExit(tr.mark("exit:a2")).
		On("back").GoTo("a1")

	f, err := b.Finalize()
	require.NoError(t, err)
	inst, err := f.Create(tr)
	require.NoError(t, err)

	// default policies cull at the common ancestor, so root is untouched
	require.NoError(t, inst.Fire("hop"))
	assert.Equal(t, []string{"exit:a1", "entry:a2"}, tr.log)

	tr.log = nil
	require.NoError(t, inst.Fire("back"))
	assert.Equal(t, []string{"exit:a2", "entry:a1"}, tr.log)

	// the override runs the full chains, root included
	tr.log = nil
	require.NoError(t, inst.Fire("hop-loud"))
	assert.Equal(t, []string{"exit:a1", "exit:root", "entry:root", "entry:a2"}, tr.log)
}

func TestInstanceIdentityAndRecipient(t *testing.T) {
	tr := &trace{}

	b := NewBuilder[string, string, *trace]().Initial("a")
	b.State("a")

	f, err := b.Finalize()
	require.NoError(t, err)

	i1, err := f.Create(tr)
	require.NoError(t, err)
	i2, err := f.Create(tr)
	require.NoError(t, err)

	assert.NotEmpty(t, i1.ID())
	assert.NotEqual(t, i1.ID(), i2.ID())
	assert.Same(t, tr, i1.Recipient())
}
