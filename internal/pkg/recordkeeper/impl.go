// Package recordkeeper persists the coordinator's event stream. Every
// event lands in the audit bucket; finalized matches additionally record
// the disclosed score gap keyed by request id. Pending requests that never
// finalize simply stay visible in the audit log.
package recordkeeper

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/do/v2"
	"github.com/vreid/kurabe/internal/pkg/common"
	"github.com/vreid/kurabe/internal/pkg/coordinator"
	"go.etcd.io/bbolt"
)

var (
	ErrAuditBucketNotFound   = errors.New("audit bucket doesn't exist")
	ErrResultsBucketNotFound = errors.New("results bucket doesn't exist")
)

type RecordKeeperService struct {
	DatabaseService *common.DatabaseService

	EventSource <-chan coordinator.Event
}

func NewRecordKeeperService(i do.Injector) (*RecordKeeperService, error) {
	databaseService := do.MustInvoke[*common.DatabaseService](i)
	eventSource := do.MustInvokeNamed[<-chan coordinator.Event](i, "event-source")

	result := &RecordKeeperService{
		DatabaseService: databaseService,

		EventSource: eventSource,
	}

	return result, nil
}

func (s *RecordKeeperService) Start() {
	go s.processEvents()
}

func (s *RecordKeeperService) HandleEvent(event coordinator.Event) error {
	marshaledEvent, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	//nolint:wrapcheck
	return s.DatabaseService.DB.Update(func(tx *bbolt.Tx) error {
		audit := tx.Bucket([]byte(common.RecordKeeperAuditBucket))
		if audit == nil {
			return ErrAuditBucketNotFound
		}

		err := audit.Put([]byte(event.ID), marshaledEvent)
		if err != nil {
			return fmt.Errorf("failed to put audit record: %w", err)
		}

		if event.Type != coordinator.EventMatchCompleted {
			return nil
		}

		results := tx.Bucket([]byte(common.RecordKeeperResultsBucket))
		if results == nil {
			return ErrResultsBucketNotFound
		}

		requestID, ok := asUint64(event.Data["request_id"])
		if !ok {
			return nil
		}

		gap, _ := asInt64(event.Data["gap"])

		err = results.Put(common.Uint64ToBytes(requestID), common.Int64ToBytes(gap))
		if err != nil {
			return fmt.Errorf("failed to put result record: %w", err)
		}

		return nil
	})
}

// Gap reads a finalized match's disclosed score gap.
func (s *RecordKeeperService) Gap(requestID uint64) (int64, bool) {
	var (
		gap   int64
		found bool
	)

	_ = s.DatabaseService.DB.View(func(tx *bbolt.Tx) error {
		results := tx.Bucket([]byte(common.RecordKeeperResultsBucket))
		if results == nil {
			return ErrResultsBucketNotFound
		}

		value := results.Get(common.Uint64ToBytes(requestID))
		if value != nil {
			gap = common.BytesToInt64(value, 0)
			found = true
		}

		return nil
	})

	return gap, found
}

func (s *RecordKeeperService) processEvents() {
	for event := range s.EventSource {
		_ = s.HandleEvent(event)
	}
}

// Event data crosses the channel in-process but may also come back out of
// JSON, so numbers show up as several types.
func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		//nolint:gosec
		return uint64(x), true
	case float64:
		return uint64(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case uint64:
		//nolint:gosec
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}
