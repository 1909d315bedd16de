package scope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wisphttp/wisp/pkg/common"
)

func waitSettled(t *testing.T, q *Sequencer) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return q.Wait(ctx)
}

func TestBootSingleNode(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	node, err := q.Register(nil, "a", func(n *Node) error { return nil })
	require.NoError(t, err)

	require.NoError(t, waitSettled(t, q))
	assert.Equal(t, Ready, node.Scope().State())
	assert.Equal(t, Ready, q.RootScope().State())
}

func TestBootNestedTreeReadyOrder(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	var inner, outer *Node
	_, err := q.Register(nil, "outer", func(n *Node) error {
		outer = n
		var regErr error
		inner, regErr = q.Register(n, "inner", func(n *Node) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
		return regErr
	})
	require.NoError(t, err)

	require.NoError(t, waitSettled(t, q))
	assert.Equal(t, Ready, inner.Scope().State())
	assert.Equal(t, Ready, outer.Scope().State())
	assert.Equal(t, Ready, q.RootScope().State())
	assert.Nil(t, q.RootNode(), "boot tree should be released after settle")
}

func TestOnReadyFiresOnceInRegistrationOrder(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	_, err := q.Register(nil, "a", func(n *Node) error { return nil })
	require.NoError(t, err)

	var mu sync.Mutex
	var calls []string
	q.OnReady(func(err error) {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
		assert.NoError(t, err)
	})
	q.OnReady(func(err error) {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
	})

	require.NoError(t, waitSettled(t, q))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestOnReadyAfterSettleFiresImmediately(t *testing.T) {
	q := NewSequencer(zap.NewNop())
	require.NoError(t, waitSettled(t, q))

	called := false
	q.OnReady(func(err error) {
		called = true
		assert.NoError(t, err)
	})
	assert.True(t, called)
}

func TestBootFailurePropagatesFirstErrorDepthFirst(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	release := make(chan struct{})
	errFirst := errors.New("first failure")

	// The first-registered plugin fails slowly; the second fails fast. The
	// reported error must still be the first in registration order.
	_, err := q.Register(nil, "slow", func(n *Node) error {
		<-release
		return errFirst
	})
	require.NoError(t, err)

	_, err = q.Register(nil, "fast", func(n *Node) error {
		return errors.New("second failure")
	})
	require.NoError(t, err)

	close(release)
	bootErr := waitSettled(t, q)
	require.Error(t, bootErr)

	var be *BootError
	require.ErrorAs(t, bootErr, &be)
	assert.Equal(t, "slow", be.Plugin)
	assert.ErrorIs(t, bootErr, errFirst)
}

func TestFailedChildDoesNotAbortReadySibling(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	ok, err := q.Register(nil, "ok", func(n *Node) error { return nil })
	require.NoError(t, err)

	bad, err := q.Register(nil, "bad", func(n *Node) error {
		time.Sleep(5 * time.Millisecond)
		return errors.New("boom")
	})
	require.NoError(t, err)

	require.Error(t, waitSettled(t, q))
	assert.Equal(t, Ready, ok.Scope().State(), "already-ready sibling keeps its state")
	assert.Equal(t, Failed, bad.Scope().State())
	assert.Equal(t, Failed, q.RootScope().State(), "ancestor observes descendant failure")
}

func TestDescendantFailureFailsAncestors(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	var outer *Node
	_, err := q.Register(nil, "outer", func(n *Node) error {
		outer = n
		_, regErr := q.Register(n, "inner", func(n *Node) error {
			return errors.New("inner boom")
		})
		return regErr
	})
	require.NoError(t, err)

	bootErr := waitSettled(t, q)
	require.Error(t, bootErr)

	var be *BootError
	require.ErrorAs(t, bootErr, &be)
	assert.Equal(t, "inner", be.Plugin, "error should name the failing node, not its ancestor")
	assert.Equal(t, Failed, outer.Scope().State())
}

func TestPluginPanicBecomesBootError(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	_, err := q.Register(nil, "panicky", func(n *Node) error {
		panic("kaboom")
	})
	require.NoError(t, err)

	bootErr := waitSettled(t, q)
	require.Error(t, bootErr)
	assert.Contains(t, bootErr.Error(), "kaboom")
}

func TestRegisterAfterSettleRejected(t *testing.T) {
	q := NewSequencer(zap.NewNop())
	require.NoError(t, waitSettled(t, q))

	_, err := q.Register(nil, "late", func(n *Node) error { return nil })
	require.ErrorIs(t, err, common.ErrLateRegistration)
}

func TestRegisterAfterFailureRejected(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	failed := make(chan struct{})
	_, err := q.Register(nil, "bad", func(n *Node) error {
		defer close(failed)
		return errors.New("boom")
	})
	require.NoError(t, err)
	<-failed

	// Give complete() a moment to record the failure.
	require.Eventually(t, func() bool {
		_, err := q.Register(nil, "after", func(n *Node) error { return nil })
		return err != nil
	}, time.Second, time.Millisecond)
}

func TestStartIdempotentAfterSettle(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	boom := errors.New("boom")
	_, err := q.Register(nil, "bad", func(n *Node) error { return boom })
	require.NoError(t, err)

	require.Error(t, waitSettled(t, q))

	// Repeated boot requests are explicit errors, never silent re-execution.
	err = q.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestWaitHonorsContext(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	block := make(chan struct{})
	_, err := q.Register(nil, "blocked", func(n *Node) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, waitSettled(t, q))
}

func TestHooksAddedDuringBootApplyToDescendants(t *testing.T) {
	q := NewSequencer(zap.NewNop())

	var child *Scope
	_, err := q.Register(nil, "parent", func(n *Node) error {
		if err := n.Scope().AddHook(common.OnRequest, func(req *common.Request, reply *common.Reply) error {
			return nil
		}); err != nil {
			return err
		}
		_, regErr := q.Register(n, "child", func(n *Node) error {
			child = n.Scope()
			return nil
		})
		return regErr
	})
	require.NoError(t, err)

	require.NoError(t, waitSettled(t, q))
	assert.Len(t, child.Chain(common.OnRequest), 1)
}
