package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/megware/xbatctld/pkg/config"
	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/types"
)

// Mongo implements Store over a MongoDB database. The typed methods are
// built on a small set of generic collection helpers; the helpers stay
// exported because the REST front-end's collections (users, projects,
// configurations, ...) live in the same database and occasionally need
// ad-hoc access from operational tooling.
//
// The two allocators serialise across controller worker processes on the
// same host through file locks. Run-number allocation is additionally a
// single find-and-modify, so it stays atomic even across hosts.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger

	runLock   *flock.Flock
	jobIDLock *flock.Flock
}

// NewMongo connects to the document store and verifies the connection.
func NewMongo(ctx context.Context, cfg config.MongoConfig, lockDir string) (*Mongo, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.User != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.User,
			Password:   cfg.Password,
			AuthSource: "admin",
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}

	return &Mongo{
		client:    client,
		db:        client.Database(cfg.Database),
		log:       log.WithComponent("store"),
		runLock:   flock.New(filepath.Join(lockDir, RunLockFile)),
		jobIDLock: flock.New(filepath.Join(lockDir, JobIDLockFile)),
	}, nil
}

// GetOne decodes the first document matching filter into out.
func (m *Mongo) GetOne(ctx context.Context, collection string, filter any, out any) error {
	err := m.db.Collection(collection).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// GetMany decodes all documents matching filter into out (a slice pointer).
func (m *Mongo) GetMany(ctx context.Context, collection string, filter any, out any) error {
	cursor, err := m.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

// InsertOne inserts a single document.
func (m *Mongo) InsertOne(ctx context.Context, collection string, document any) error {
	_, err := m.db.Collection(collection).InsertOne(ctx, document)
	return err
}

// UpdateOne applies an update to the first document matching filter.
func (m *Mongo) UpdateOne(ctx context.Context, collection string, filter, update any) error {
	result, err := m.db.Collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceOne replaces the first document matching filter, optionally
// inserting it when missing.
func (m *Mongo) ReplaceOne(ctx context.Context, collection string, filter, document any, upsert bool) error {
	result, err := m.db.Collection(collection).ReplaceOne(ctx, filter, document,
		options.Replace().SetUpsert(upsert))
	if err != nil {
		return err
	}
	if !upsert && result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany removes all documents matching filter.
func (m *Mongo) DeleteMany(ctx context.Context, collection string, filter any) error {
	_, err := m.db.Collection(collection).DeleteMany(ctx, filter)
	return err
}

// Aggregate runs a pipeline and decodes all results into out.
func (m *Mongo) Aggregate(ctx context.Context, collection string, pipeline any, out any) error {
	cursor, err := m.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

// Collections lists the collection names present in the database.
func (m *Mongo) Collections(ctx context.Context) ([]string, error) {
	return m.db.ListCollectionNames(ctx, bson.M{})
}

// CreateBenchmark allocates the next run number and inserts the benchmark.
func (m *Mongo) CreateBenchmark(ctx context.Context, benchmark *types.Benchmark) error {
	runNr, err := m.nextRunNr(ctx)
	if err != nil {
		return err
	}
	benchmark.RunNr = runNr
	if benchmark.StartTime == nil {
		now := time.Now().UTC()
		benchmark.StartTime = &now
	}
	if err := m.InsertOne(ctx, CollectionBenchmarks, benchmark); err != nil {
		return fmt.Errorf("failed to insert benchmark: %w", err)
	}
	m.log.Debug().Int64("run_nr", runNr).Msg("Created benchmark")
	return nil
}

// nextRunNr increments the lastRun counter in the misc singleton and
// returns the new value. The file lock serialises sibling worker
// processes; the find-and-modify keeps the increment itself atomic.
func (m *Mongo) nextRunNr(ctx context.Context) (int64, error) {
	if err := m.runLock.Lock(); err != nil {
		return 0, fmt.Errorf("failed to acquire run-number lock: %w", err)
	}
	defer m.runLock.Unlock()

	var misc struct {
		LastRun int64 `bson:"lastRun"`
	}
	err := m.db.Collection(CollectionMisc).FindOneAndUpdate(ctx,
		bson.M{},
		bson.M{"$inc": bson.M{"lastRun": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&misc)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate run number: %w", err)
	}
	return misc.LastRun, nil
}

// GetBenchmark returns the benchmark with the given run number.
func (m *Mongo) GetBenchmark(ctx context.Context, runNr int64) (*types.Benchmark, error) {
	var benchmark types.Benchmark
	if err := m.GetOne(ctx, CollectionBenchmarks, bson.M{"runNr": runNr}, &benchmark); err != nil {
		return nil, err
	}
	benchmark.Configuration = normalizeMap(benchmark.Configuration)
	return &benchmark, nil
}

// ListBenchmarksByJobIDs returns all benchmarks owning at least one of the
// given job ids.
func (m *Mongo) ListBenchmarksByJobIDs(ctx context.Context, jobIDs []int64) ([]*types.Benchmark, error) {
	var benchmarks []*types.Benchmark
	err := m.GetMany(ctx, CollectionBenchmarks, bson.M{"jobIds": bson.M{"$in": jobIDs}}, &benchmarks)
	if err != nil {
		return nil, err
	}
	for _, benchmark := range benchmarks {
		benchmark.Configuration = normalizeMap(benchmark.Configuration)
	}
	return benchmarks, nil
}

// UpdateBenchmark applies a partial update with set semantics.
func (m *Mongo) UpdateBenchmark(ctx context.Context, runNr int64, fields map[string]any) error {
	return m.UpdateOne(ctx, CollectionBenchmarks, bson.M{"runNr": runNr}, bson.M{"$set": fields})
}

// CreateJob inserts a new job document.
func (m *Mongo) CreateJob(ctx context.Context, job *types.Job) error {
	return m.InsertOne(ctx, CollectionJobs, job)
}

// GetJob returns the job with the given id.
func (m *Mongo) GetJob(ctx context.Context, jobID int64) (*types.Job, error) {
	var job types.Job
	if err := m.GetOne(ctx, CollectionJobs, bson.M{"jobId": jobID}, &job); err != nil {
		return nil, err
	}
	job.Configuration = normalizeMap(job.Configuration)
	return &job, nil
}

// ListJobsByRunNr returns all jobs belonging to a benchmark.
func (m *Mongo) ListJobsByRunNr(ctx context.Context, runNr int64) ([]*types.Job, error) {
	var jobs []*types.Job
	if err := m.GetMany(ctx, CollectionJobs, bson.M{"runNr": runNr}, &jobs); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		job.Configuration = normalizeMap(job.Configuration)
	}
	return jobs, nil
}

// ListJobIDs returns the ids of all job documents.
func (m *Mongo) ListJobIDs(ctx context.Context) ([]int64, error) {
	return m.distinctInt64(ctx, CollectionJobs, "jobId")
}

// ReplaceJob overwrites the job document with the same jobId.
func (m *Mongo) ReplaceJob(ctx context.Context, job *types.Job) error {
	return m.ReplaceOne(ctx, CollectionJobs, bson.M{"jobId": job.JobID}, job, false)
}

// SetJobNode records one registering node on the job document without
// touching any other field.
func (m *Mongo) SetJobNode(ctx context.Context, jobID int64, node types.JobNode) error {
	return m.UpdateOne(ctx, CollectionJobs, bson.M{"jobId": jobID},
		bson.M{"$set": bson.M{"nodes." + node.Hostname: node}})
}

// UpsertOutput stores the harvested output for a job.
func (m *Mongo) UpsertOutput(ctx context.Context, output *types.Output) error {
	return m.ReplaceOne(ctx, CollectionOutputs, bson.M{"jobId": output.JobID}, output, true)
}

// GetOutput returns the stored output for a job.
func (m *Mongo) GetOutput(ctx context.Context, jobID int64) (*types.Output, error) {
	var output types.Output
	if err := m.GetOne(ctx, CollectionOutputs, bson.M{"jobId": jobID}, &output); err != nil {
		return nil, err
	}
	return &output, nil
}

// GetNodeProfile returns the calibration profile for a hardware hash.
func (m *Mongo) GetNodeProfile(ctx context.Context, hash string) (*types.NodeProfile, error) {
	var profile types.NodeProfile
	if err := m.GetOne(ctx, CollectionNodes, bson.M{"hash": hash}, &profile); err != nil {
		return nil, err
	}
	profile.Benchmarks = normalizeMap(profile.Benchmarks)
	return &profile, nil
}

// CreateNodeProfile inserts a new calibration profile.
func (m *Mongo) CreateNodeProfile(ctx context.Context, profile *types.NodeProfile) error {
	return m.InsertOne(ctx, CollectionNodes, profile)
}

// TouchNodeProfile refreshes the profile's lastUpdate timestamp.
func (m *Mongo) TouchNodeProfile(ctx context.Context, hash string, lastUpdate int64) error {
	return m.UpdateOne(ctx, CollectionNodes, bson.M{"hash": hash},
		bson.M{"$set": bson.M{"lastUpdate": lastUpdate}})
}

// GetConfiguration returns a configuration document by its hex id.
func (m *Mongo) GetConfiguration(ctx context.Context, id string) (map[string]any, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration id %q: %w", id, err)
	}
	var configuration bson.M
	if err := m.GetOne(ctx, CollectionConfigurations, bson.M{"_id": oid}, &configuration); err != nil {
		return nil, err
	}
	return normalizeMap(configuration), nil
}

// GetUserProfile returns the directory-synced profile of a user. The sync
// writes the ldap attributes verbatim, so the numeric ids may arrive as
// strings and are coerced here.
func (m *Mongo) GetUserProfile(ctx context.Context, username string) (*types.UserProfile, error) {
	var doc bson.M
	if err := m.GetOne(ctx, CollectionUsers, bson.M{"user_name": username}, &doc); err != nil {
		return nil, err
	}

	uid, uidOK := toInt64(doc["uidnumber"])
	gid, gidOK := toInt64(doc["gidnumber"])
	home, _ := doc["homedirectory"].(string)
	if !uidOK || !gidOK {
		return nil, fmt.Errorf("user %q has non-numeric ids in directory", username)
	}

	return &types.UserProfile{
		UserName:      username,
		UID:           uid,
		GID:           gid,
		HomeDirectory: home,
	}, nil
}

// NextJobID allocates the smallest free job id. Stale reservations are
// swept first so a crash between allocation and job insert cannot leak an
// id forever.
func (m *Mongo) NextJobID(ctx context.Context) (int64, error) {
	if err := m.jobIDLock.Lock(); err != nil {
		return 0, fmt.Errorf("failed to acquire job-id lock: %w", err)
	}
	defer m.jobIDLock.Unlock()

	cutoff := time.Now().UTC().Add(-reservationTTL)
	if err := m.DeleteMany(ctx, CollectionReservedJobIDs,
		bson.M{"reservedAt": bson.M{"$lt": cutoff}}); err != nil {
		return 0, fmt.Errorf("failed to sweep stale reservations: %w", err)
	}

	used := make(map[int64]struct{})
	jobIDs, err := m.distinctInt64(ctx, CollectionJobs, "jobId")
	if err != nil {
		return 0, fmt.Errorf("failed to list job ids: %w", err)
	}
	for _, id := range jobIDs {
		used[id] = struct{}{}
	}
	reserved, err := m.distinctInt64(ctx, CollectionReservedJobIDs, "jobId")
	if err != nil {
		return 0, fmt.Errorf("failed to list reserved job ids: %w", err)
	}
	for _, id := range reserved {
		used[id] = struct{}{}
	}

	id := NextFreeID(used)
	if err := m.InsertOne(ctx, CollectionReservedJobIDs,
		bson.M{"jobId": id, "reservedAt": time.Now().UTC()}); err != nil {
		return 0, fmt.Errorf("failed to reserve job id: %w", err)
	}
	return id, nil
}

// ReleaseReservedJobIDs drops reservations once the job documents exist.
func (m *Mongo) ReleaseReservedJobIDs(ctx context.Context, jobIDs []int64) error {
	if len(jobIDs) == 0 {
		return nil
	}
	return m.DeleteMany(ctx, CollectionReservedJobIDs, bson.M{"jobId": bson.M{"$in": jobIDs}})
}

// BenchmarkStateCounts returns the number of benchmarks per state.
func (m *Mongo) BenchmarkStateCounts(ctx context.Context) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$state", "count": bson.M{"$sum": 1}}}},
	}
	var rows []struct {
		State string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := m.Aggregate(ctx, CollectionBenchmarks, pipeline, &rows); err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}

// JobCount returns the number of job documents.
func (m *Mongo) JobCount(ctx context.Context) (int64, error) {
	return m.db.Collection(CollectionJobs).CountDocuments(ctx, bson.M{})
}

// Ping verifies the connection is alive.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from the document store.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// distinctInt64 returns the distinct values of an integer field.
func (m *Mongo) distinctInt64(ctx context.Context, collection, field string) ([]int64, error) {
	values, err := m.db.Collection(collection).Distinct(ctx, field, bson.M{})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		if id, ok := toInt64(value); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// normalizeMap rewrites bson container and scalar types into their plain
// Go equivalents so consumers can type-switch on map[string]any and []any
// regardless of which store implementation produced the document.
func normalizeMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case primitive.M:
		return normalizeMap(map[string]any(v))
	case map[string]any:
		return normalizeMap(v)
	case primitive.A:
		out := make([]any, len(v))
		for i, element := range v {
			out[i] = normalizeValue(element)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, element := range v {
			out[i] = normalizeValue(element)
		}
		return out
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.ObjectID:
		return v.Hex()
	default:
		return value
	}
}
