/*
Package jobqueue runs the River-based intake for AI-suggested edits. The LLM
subsystem is an external producer: it enqueues suggestion batches, and the
worker here feeds each suggestion through the changeset API so AI edits get
exactly the same staging, dedup, and review semantics as human edits.
*/
package jobqueue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/lexistage/internal/changeset"
	"github.com/lexistage/internal/lexvalue"
)

// Suggestion is one proposed field value from the producer.
type Suggestion struct {
	FieldName string         `json:"field_name"`
	OldValue  lexvalue.Value `json:"old_value"`
	NewValue  lexvalue.Value `json:"new_value"`
}

// SuggestionBatchArgs is the payload of a suggestion-apply job: one entity,
// one job id, many suggested field values.
type SuggestionBatchArgs struct {
	LLMJobID    string       `json:"llm_job_id"`
	EntityType  string       `json:"entity_type"`
	EntityID    int64        `json:"entity_id"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Kind returns the job kind for River.
func (SuggestionBatchArgs) Kind() string { return "suggestion_batch_apply" }

// SuggestionBatchWorker applies a suggestion batch through the changeset
// store.
type SuggestionBatchWorker struct {
	river.WorkerDefaults[SuggestionBatchArgs]
	store *changeset.Store
}

// Work stages every suggestion of the batch. Suggestions that match the
// entity's current value are dropped by the upsert dedup; if the whole batch
// nets out to nothing, the job's changeset is discarded so reviewers never
// see an empty one.
func (w *SuggestionBatchWorker) Work(ctx context.Context, job *river.Job[SuggestionBatchArgs]) error {
	args := job.Args
	if args.LLMJobID == "" {
		return fmt.Errorf("suggestion batch without llm_job_id")
	}

	cs, err := w.store.EnsureChangeset(ctx, args.EntityType, args.EntityID, changeset.ByJob(args.LLMJobID))
	if err != nil {
		return fmt.Errorf("failed to open changeset for job %s: %w", args.LLMJobID, err)
	}

	applied := 0
	for i, s := range args.Suggestions {
		res, err := w.store.UpsertFieldChange(ctx, cs.ID, s.FieldName, s.OldValue, s.NewValue)
		if err != nil {
			return fmt.Errorf("failed to apply suggestion for %q: %w", s.FieldName, err)
		}
		if res.Action == changeset.UpsertCreated || res.Action == changeset.UpsertUpdated {
			applied++
		}
		if res.ChangesetDiscarded {
			// A revert emptied the changeset and discarded it. The remaining
			// suggestions still have to be staged, so reopen before continuing.
			log.Info().Str("llm_job_id", args.LLMJobID).Int64("changeset_id", cs.ID).
				Msg("Suggestion emptied its changeset")
			if i == len(args.Suggestions)-1 {
				break
			}
			cs, err = w.store.EnsureChangeset(ctx, args.EntityType, args.EntityID, changeset.ByJob(args.LLMJobID))
			if err != nil {
				return fmt.Errorf("failed to reopen changeset for job %s: %w", args.LLMJobID, err)
			}
		}
	}

	if applied == 0 {
		current, err := w.store.GetChangeset(ctx, cs.ID)
		if err != nil {
			return err
		}
		if len(current.FieldChanges) == 0 && current.Status == changeset.StatusPending {
			if err := w.store.DiscardChangeset(ctx, cs.ID); err != nil {
				return fmt.Errorf("failed to discard empty changeset %d: %w", cs.ID, err)
			}
		}
	}

	log.Info().Str("llm_job_id", args.LLMJobID).Str("entity_type", args.EntityType).
		Int64("entity_id", args.EntityID).Int("applied", applied).
		Int("suggested", len(args.Suggestions)).
		Msg("Applied suggestion batch")
	return nil
}

// JobQueue manages the River job queue.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// NewJobQueue creates a job queue backed by its own pgx pool.
func NewJobQueue(databaseURL string, store *changeset.Store, maxWorkers int) (*JobQueue, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SuggestionBatchWorker{store: store})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool}, nil
}

// Start starts the job queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers and releases the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// EnqueueSuggestionBatch queues a suggestion batch for staging.
func (jq *JobQueue) EnqueueSuggestionBatch(ctx context.Context, args SuggestionBatchArgs) error {
	if _, err := jq.client.Insert(ctx, args, nil); err != nil {
		return fmt.Errorf("failed to queue suggestion batch: %w", err)
	}
	return nil
}
