package flight

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/common/logging"
	"github.com/dinvlad/jade-data-repo/internal/common/util"
)

const (
	flightKeyPrefix     = "Flight:"
	queueKeyPrefix      = "FlightQueue:"
	processingKeyPrefix = "FlightProcessing:"

	fieldClass     = "class"
	fieldStatus    = "status"
	fieldInputs    = "inputs"
	fieldWorking   = "working"
	fieldStepIndex = "stepIndex"
	fieldUndoing   = "undoing"
	fieldFailure   = "failure"
	fieldResult    = "result"
	fieldError     = "error"
	fieldSubmitted = "submitted"
	fieldCompleted = "completed"
	fieldHeartbeat = "heartbeat"
	fieldOwner     = "owner"
)

type RedisEngineConfig struct {
	QueueName         string        `validate:"required"`
	Workers           int           `validate:"gte=1"`
	PollInterval      time.Duration `validate:"gt=0"`
	HeartbeatInterval time.Duration `validate:"gt=0"`
	// StaleAfter is how long a running flight may go without a heartbeat before it is requeued.
	StaleAfter time.Duration `validate:"gtfield=HeartbeatInterval"`
}

// RedisEngine shares one flight queue between every member of the fleet. Flights are moved atomically from
// the queue to a processing list while they run, and their progress is checkpointed after every step, so a
// flight abandoned by a dead member is requeued by RequeueStale and resumed elsewhere.
type RedisEngine struct {
	db       redis.UniversalClient
	registry *Registry
	config   RedisEngineConfig
	clock    clock.WithTicker
	owner    string
}

func NewRedisEngine(db redis.UniversalClient, registry *Registry, config RedisEngineConfig, clock clock.WithTicker) *RedisEngine {
	return &RedisEngine{
		db:       db,
		registry: registry,
		config:   config,
		clock:    clock,
		owner:    util.NewULID(),
	}
}

func flightKey(flightId string) string {
	return flightKeyPrefix + flightId
}

func (e *RedisEngine) queueKey() string {
	return queueKeyPrefix + e.config.QueueName
}

func (e *RedisEngine) processingKey() string {
	return processingKeyPrefix + e.config.QueueName
}

func (e *RedisEngine) CreateFlightId() string {
	return util.NewULID()
}

func (e *RedisEngine) SubmitToQueue(_ context.Context, flightId string, class string, inputs *Map) error {
	if inputs == nil {
		inputs = NewMap()
	}
	encodedInputs, err := json.Marshal(inputs)
	if err != nil {
		return errors.WithStack(err)
	}

	key := flightKey(flightId)
	err = e.db.Watch(func(tx *redis.Tx) error {
		exists, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return &datarepoerrors.ErrAlreadyExists{Type: "flight", Value: flightId}
		}
		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			pipe.HMSet(key, map[string]interface{}{
				fieldClass:     class,
				fieldStatus:    string(Queued),
				fieldInputs:    string(encodedInputs),
				fieldWorking:   "{}",
				fieldStepIndex: 0,
				fieldSubmitted: formatTime(e.clock.Now()),
			})
			pipe.LPush(e.queueKey(), flightId)
			return nil
		})
		return err
	}, key)

	var alreadyExists *datarepoerrors.ErrAlreadyExists
	if errors.As(err, &alreadyExists) {
		return errors.WithStack(err)
	}
	return datarepoerrors.Retryable(errors.WithStack(err))
}

func (e *RedisEngine) GetFlightState(_ context.Context, flightId string) (*State, error) {
	fields, err := e.db.HGetAll(flightKey(flightId)).Result()
	if err != nil {
		return nil, datarepoerrors.Retryable(errors.WithStack(err))
	}
	if len(fields) == 0 {
		return nil, errors.WithStack(ErrFlightNotFound)
	}
	if fields[fieldStatus] == "" {
		// Never fully submitted, so no worker will ever pick it up.
		if err := e.db.Del(flightKey(flightId)).Err(); err != nil {
			return nil, datarepoerrors.Retryable(errors.WithStack(err))
		}
		return nil, errors.WithStack(ErrFlightNotFound)
	}
	state := &State{
		FlightId:  flightId,
		Class:     fields[fieldClass],
		Status:    Status(fields[fieldStatus]),
		Error:     fields[fieldError],
		Submitted: parseTime(fields[fieldSubmitted]),
		Completed: parseTime(fields[fieldCompleted]),
	}
	if state.Inputs, err = decodeMap(fields[fieldInputs]); err != nil {
		return nil, err
	}
	if result, ok := fields[fieldResult]; ok {
		if state.Result, err = decodeMap(result); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Run starts the workers of this member and blocks until ctx is cancelled.
func (e *RedisEngine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.config.Workers; i++ {
		g.Go(func() error {
			for {
				if ctx.Err() != nil {
					return nil
				}
				processed, err := e.processNext(ctx)
				if err != nil {
					logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Warn("Error processing flight queue")
				}
				if !processed {
					select {
					case <-ctx.Done():
						return nil
					case <-e.clock.After(e.config.PollInterval):
					}
				}
			}
		})
	}
	return g.Wait()
}

// processNext runs the next queued flight, if any, and reports whether one was found.
func (e *RedisEngine) processNext(ctx context.Context) (bool, error) {
	flightId, err := e.db.RPopLPush(e.queueKey(), e.processingKey()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	return true, e.execute(ctx, flightId)
}

func (e *RedisEngine) execute(ctx context.Context, flightId string) error {
	logger := log.WithField("flightId", flightId)
	fields, err := e.db.HGetAll(flightKey(flightId)).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if len(fields) == 0 || Status(fields[fieldStatus]).IsTerminal() {
		return e.release(flightId)
	}

	fc, err := contextFromFields(flightId, fields)
	if err != nil {
		return e.finish(flightId, Fatal, nil, err)
	}
	err = e.db.HMSet(flightKey(flightId), map[string]interface{}{
		fieldStatus:    string(Running),
		fieldOwner:     e.owner,
		fieldHeartbeat: formatTime(e.clock.Now()),
	}).Err()
	if err != nil {
		return errors.WithStack(err)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go e.heartbeat(heartbeatCtx, flightId)

	flight, err := e.registry.Build(fc.Class, fc.Inputs)
	if err != nil {
		return e.finish(flightId, Fatal, nil, err)
	}
	status, runErr := Run(ctx, flight, fc, e.checkpoint)
	if errors.Is(runErr, ErrInterrupted) {
		// Leave the flight in the processing list; it is requeued once its heartbeat goes stale.
		logger.Info("Flight interrupted by shutdown")
		return nil
	}
	if status == Running {
		return runErr
	}
	var result *Map
	if status == Success {
		result = fc.Working
	}
	return e.finish(flightId, status, result, runErr)
}

func (e *RedisEngine) checkpoint(_ context.Context, fc *Context) error {
	working, err := json.Marshal(fc.Working)
	if err != nil {
		return errors.WithStack(err)
	}
	err = e.db.HMSet(flightKey(fc.FlightId), map[string]interface{}{
		fieldWorking:   string(working),
		fieldStepIndex: fc.StepIndex,
		fieldUndoing:   strconv.FormatBool(fc.Undoing),
		fieldFailure:   fc.Failure,
		fieldHeartbeat: formatTime(e.clock.Now()),
	}).Err()
	return errors.WithStack(err)
}

func (e *RedisEngine) finish(flightId string, status Status, result *Map, flightErr error) error {
	fields := map[string]interface{}{
		fieldStatus:    string(status),
		fieldCompleted: formatTime(e.clock.Now()),
	}
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return errors.WithStack(err)
		}
		fields[fieldResult] = string(encoded)
	}
	if flightErr != nil {
		fields[fieldError] = flightErr.Error()
	}
	pipe := e.db.TxPipeline()
	pipe.HMSet(flightKey(flightId), fields)
	pipe.LRem(e.processingKey(), 1, flightId)
	_, err := pipe.Exec()
	return errors.WithStack(err)
}

func (e *RedisEngine) release(flightId string) error {
	return errors.WithStack(e.db.LRem(e.processingKey(), 1, flightId).Err())
}

func (e *RedisEngine) heartbeat(ctx context.Context, flightId string) {
	ticker := e.clock.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			err := e.db.HSet(flightKey(flightId), fieldHeartbeat, formatTime(e.clock.Now())).Err()
			if err != nil {
				log.WithField("flightId", flightId).WithError(err).Warn("Failed to record heartbeat")
			}
		}
	}
}

// RequeueStale moves flights whose worker stopped sending heartbeats back onto the queue and returns how many
// were moved.
func (e *RedisEngine) RequeueStale() (int, error) {
	flightIds, err := e.db.LRange(e.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	requeued := 0
	now := e.clock.Now()
	for _, flightId := range flightIds {
		fields, err := e.db.HMGet(flightKey(flightId), fieldStatus, fieldHeartbeat).Result()
		if err != nil {
			return requeued, errors.WithStack(err)
		}
		status, _ := fields[0].(string)
		heartbeat, _ := fields[1].(string)
		if Status(status).IsTerminal() {
			if err := e.release(flightId); err != nil {
				return requeued, err
			}
			continue
		}
		if heartbeat != "" && now.Sub(parseTime(heartbeat)) < e.config.StaleAfter {
			continue
		}
		// Only the member that removes the id from the processing list requeues it.
		removed, err := e.db.LRem(e.processingKey(), 1, flightId).Result()
		if err != nil {
			return requeued, errors.WithStack(err)
		}
		if removed == 0 {
			continue
		}
		pipe := e.db.TxPipeline()
		pipe.HSet(flightKey(flightId), fieldStatus, string(Ready))
		pipe.RPush(e.queueKey(), flightId)
		if _, err := pipe.Exec(); err != nil {
			return requeued, errors.WithStack(err)
		}
		log.WithField("flightId", flightId).Warn("Requeued flight with stale heartbeat")
		requeued++
	}
	return requeued, nil
}

// Check reports whether redis is reachable.
func (e *RedisEngine) Check() error {
	return errors.Wrap(e.db.Ping().Err(), "redis")
}

func contextFromFields(flightId string, fields map[string]string) (*Context, error) {
	inputs, err := decodeMap(fields[fieldInputs])
	if err != nil {
		return nil, err
	}
	working, err := decodeMap(fields[fieldWorking])
	if err != nil {
		return nil, err
	}
	fc := NewContext(flightId, fields[fieldClass], inputs)
	fc.Working = working
	fc.Failure = fields[fieldFailure]
	fc.Undoing = fields[fieldUndoing] == "true"
	if index, ok := fields[fieldStepIndex]; ok && index != "" {
		fc.StepIndex, err = strconv.Atoi(index)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return fc, nil
}

func decodeMap(encoded string) (*Map, error) {
	m := NewMap()
	if encoded == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(encoded), m); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
