package flight

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
)

var testRedisConfig = RedisEngineConfig{
	QueueName:         "test",
	Workers:           2,
	PollInterval:      pollInterval,
	HeartbeatInterval: time.Second,
	StaleAfter:        time.Minute,
}

func withRedisEngine(clock clock.WithTicker, rec *recorder, action func(db *redis.Client, engine *RedisEngine)) {
	server, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer server.Close()

	db := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer db.Close()

	action(db, NewRedisEngine(db, newTestRegistry(rec), testRedisConfig, clock))
}

func runEngine(t *testing.T, engine *RedisEngine, action func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error)
	go func() { done <- engine.Run(ctx) }()

	action(ctx)

	cancel()
	require.NoError(t, <-done)
}

func TestRedisEngine_Success(t *testing.T) {
	withRedisEngine(clock.RealClock{}, &recorder{}, func(db *redis.Client, engine *RedisEngine) {
		runEngine(t, engine, func(ctx context.Context) {
			inputs := NewMap()
			require.NoError(t, inputs.Put("message", "hello"))
			flightId := engine.CreateFlightId()
			require.NoError(t, engine.SubmitToQueue(ctx, flightId, "ok", inputs))

			state, err := WaitForFlight(ctx, engine, clock.RealClock{}, flightId, pollInterval)
			require.NoError(t, err)
			assert.Equal(t, Success, state.Status)
			assert.Equal(t, "ok", state.Class)
			assert.Equal(t, "hello", state.Result.GetString("echo"))
			assert.Equal(t, "hello", state.Inputs.GetString("message"))
			assert.False(t, state.Submitted.IsZero())
			assert.False(t, state.Completed.IsZero())

			processing, err := db.LLen(engine.processingKey()).Result()
			require.NoError(t, err)
			assert.Equal(t, int64(0), processing)
		})
	})
}

func TestRedisEngine_Failure(t *testing.T) {
	rec := &recorder{}
	withRedisEngine(clock.RealClock{}, rec, func(db *redis.Client, engine *RedisEngine) {
		runEngine(t, engine, func(ctx context.Context) {
			flightId := engine.CreateFlightId()
			require.NoError(t, engine.SubmitToQueue(ctx, flightId, "failing", nil))

			state, err := WaitForFlight(ctx, engine, clock.RealClock{}, flightId, pollInterval)
			require.NoError(t, err)
			assert.Equal(t, Error, state.Status)
			assert.Equal(t, "no luck", state.Error)
			assert.Nil(t, state.Result)
			assert.Equal(t, []string{"do:a", "do:b", "undo:b", "undo:a"}, rec.get())
		})
	})
}

func TestRedisEngine_ResumesFromCheckpoint(t *testing.T) {
	rec := &recorder{}
	withRedisEngine(clock.RealClock{}, rec, func(db *redis.Client, engine *RedisEngine) {
		flightId := engine.CreateFlightId()
		require.NoError(t, engine.SubmitToQueue(context.Background(), flightId, "failing", nil))
		// As if a previous worker had completed the first step before dying.
		require.NoError(t, db.HSet(flightKey(flightId), fieldStepIndex, 1).Err())

		runEngine(t, engine, func(ctx context.Context) {
			state, err := WaitForFlight(ctx, engine, clock.RealClock{}, flightId, pollInterval)
			require.NoError(t, err)
			assert.Equal(t, Error, state.Status)
			assert.Equal(t, []string{"do:b", "undo:b", "undo:a"}, rec.get())
		})
	})
}

func TestRedisEngine_DuplicateSubmit(t *testing.T) {
	withRedisEngine(clock.RealClock{}, &recorder{}, func(db *redis.Client, engine *RedisEngine) {
		flightId := engine.CreateFlightId()
		require.NoError(t, engine.SubmitToQueue(context.Background(), flightId, "ok", nil))

		err := engine.SubmitToQueue(context.Background(), flightId, "ok", nil)
		var alreadyExists *datarepoerrors.ErrAlreadyExists
		assert.True(t, errors.As(err, &alreadyExists))

		queued, err := db.LLen(engine.queueKey()).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), queued)

		state, err := engine.GetFlightState(context.Background(), flightId)
		require.NoError(t, err)
		assert.Equal(t, Queued, state.Status)
	})
}

func TestRedisEngine_UnknownFlight(t *testing.T) {
	withRedisEngine(clock.RealClock{}, &recorder{}, func(db *redis.Client, engine *RedisEngine) {
		_, err := engine.GetFlightState(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrFlightNotFound)
	})
}

// interferingClient touches every watched key after WATCH, so the transaction that follows is aborted.
type interferingClient struct {
	redis.UniversalClient
}

func (c interferingClient) Watch(fn func(*redis.Tx) error, keys ...string) error {
	return c.UniversalClient.Watch(func(tx *redis.Tx) error {
		for _, key := range keys {
			if err := c.UniversalClient.HSet(key, fieldClass, "ok").Err(); err != nil {
				return err
			}
			if err := c.UniversalClient.Del(key).Err(); err != nil {
				return err
			}
		}
		return fn(tx)
	}, keys...)
}

func TestRedisEngine_FailedSubmitLeavesNoFlight(t *testing.T) {
	withRedisEngine(clock.RealClock{}, &recorder{}, func(db *redis.Client, engine *RedisEngine) {
		ctx := context.Background()
		failing := NewRedisEngine(interferingClient{db}, engine.registry, testRedisConfig, clock.RealClock{})
		flightId := failing.CreateFlightId()

		err := failing.SubmitToQueue(ctx, flightId, "ok", nil)
		require.Error(t, err)
		assert.True(t, datarepoerrors.IsRetryable(err))

		queued, err := db.LLen(engine.queueKey()).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(0), queued)

		_, err = engine.GetFlightState(ctx, flightId)
		assert.ErrorIs(t, err, ErrFlightNotFound)

		require.NoError(t, engine.SubmitToQueue(ctx, flightId, "ok", nil))
		state, err := engine.GetFlightState(ctx, flightId)
		require.NoError(t, err)
		assert.Equal(t, Queued, state.Status)
	})
}

func TestRedisEngine_FlightWithoutStatusIsNotFound(t *testing.T) {
	withRedisEngine(clock.RealClock{}, &recorder{}, func(db *redis.Client, engine *RedisEngine) {
		flightId := engine.CreateFlightId()
		require.NoError(t, db.HSet(flightKey(flightId), fieldClass, "ok").Err())

		_, err := engine.GetFlightState(context.Background(), flightId)
		assert.ErrorIs(t, err, ErrFlightNotFound)

		exists, err := db.Exists(flightKey(flightId)).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(0), exists)
	})
}

func TestRedisEngine_RequeueStale(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))
	withRedisEngine(fakeClock, &recorder{}, func(db *redis.Client, engine *RedisEngine) {
		ctx := context.Background()
		stale := engine.CreateFlightId()
		fresh := engine.CreateFlightId()
		finished := engine.CreateFlightId()
		for _, flightId := range []string{stale, fresh, finished} {
			require.NoError(t, engine.SubmitToQueue(ctx, flightId, "ok", nil))
			require.NoError(t, db.RPopLPush(engine.queueKey(), engine.processingKey()).Err())
			require.NoError(t, db.HSet(flightKey(flightId), fieldStatus, string(Running)).Err())
		}
		require.NoError(t, db.HSet(flightKey(stale), fieldHeartbeat, formatTime(fakeClock.Now())).Err())
		require.NoError(t, db.HSet(flightKey(finished), fieldStatus, string(Success)).Err())

		fakeClock.Step(2 * time.Minute)
		require.NoError(t, db.HSet(flightKey(fresh), fieldHeartbeat, formatTime(fakeClock.Now())).Err())

		requeued, err := engine.RequeueStale()
		require.NoError(t, err)
		assert.Equal(t, 1, requeued)

		queue, err := db.LRange(engine.queueKey(), 0, -1).Result()
		require.NoError(t, err)
		assert.Equal(t, []string{stale}, queue)

		processing, err := db.LRange(engine.processingKey(), 0, -1).Result()
		require.NoError(t, err)
		assert.Equal(t, []string{fresh}, processing)

		state, err := engine.GetFlightState(ctx, stale)
		require.NoError(t, err)
		assert.Equal(t, Ready, state.Status)
	})
}

func TestRedisEngine_Check(t *testing.T) {
	withRedisEngine(clock.RealClock{}, &recorder{}, func(db *redis.Client, engine *RedisEngine) {
		assert.NoError(t, engine.Check())
	})
}
