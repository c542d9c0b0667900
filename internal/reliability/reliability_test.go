package reliability

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
	testingpkg "github.com/aristath/autopublish/internal/testing"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	err    error
	bucket string
	key    string
	body   string
	calls  int
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.bucket = *input.Bucket
	f.key = *input.Key
	f.body = string(data)
	return &manager.UploadOutput{Key: input.Key}, nil
}

type fakeDayResults map[string][]*domain.TickerJobResult

func (f fakeDayResults) ForDay(day string) ([]*domain.TickerJobResult, error) {
	return f[day], nil
}

func TestResultArchiver_ArchivesYesterday(t *testing.T) {
	results := fakeDayResults{
		"2026-03-09": {
			{ID: "r1", ProfileID: "p1", Ticker: "AAA", Outcome: domain.OutcomePublished, Day: "2026-03-09"},
			{ID: "r2", ProfileID: "p1", Ticker: "BBB", Outcome: domain.OutcomeFailed, ErrorDetail: "boom", Day: "2026-03-09"},
		},
	}
	up := &fakeUploader{}
	a := NewResultArchiver(results, up, "archive", "ticker-results", zerolog.Nop())
	a.now = func() time.Time { return time.Date(2026, 3, 10, 0, 15, 0, 0, time.UTC) }

	require.NoError(t, a.Run())

	assert.Equal(t, "archive", up.bucket)
	assert.Equal(t, "ticker-results/2026-03-09.jsonl", up.key)

	var ids []string
	scanner := bufio.NewScanner(strings.NewReader(up.body))
	for scanner.Scan() {
		var res domain.TickerJobResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &res))
		ids = append(ids, res.ID)
	}
	assert.Equal(t, []string{"r1", "r2"}, ids)
}

func TestResultArchiver_EmptyDayUploadsNothing(t *testing.T) {
	up := &fakeUploader{}
	a := NewResultArchiver(fakeDayResults{}, up, "archive", "x", zerolog.Nop())

	n, err := a.ArchiveDay(context.Background(), "2026-01-01")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, up.calls)
}

func TestResultArchiver_UploadError(t *testing.T) {
	up := &fakeUploader{err: errors.New("403 forbidden")}
	results := fakeDayResults{"2026-01-01": {{ID: "r1", Outcome: domain.OutcomePublished}}}
	a := NewResultArchiver(results, up, "archive", "x", zerolog.Nop())

	_, err := a.ArchiveDay(context.Background(), "2026-01-01")
	assert.ErrorContains(t, err, "x/2026-01-01.jsonl")
}

type fakePruner struct {
	err    error
	cutoff string
}

func (f *fakePruner) DeleteBefore(day string) (int64, error) {
	f.cutoff = day
	return 3, f.err
}

func TestRetentionJob(t *testing.T) {
	quota := &fakePruner{}
	fingerprints := &fakePruner{}
	j := NewRetentionJob(30, map[string]DayPruner{"quota_counters": quota, "published_fingerprints": fingerprints}, zerolog.Nop())
	j.now = func() time.Time { return time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, j.Run())
	assert.Equal(t, "2026-03-01", quota.cutoff)
	assert.Equal(t, "2026-03-01", fingerprints.cutoff)

	fingerprints.err = errors.New("disk I/O error")
	assert.ErrorContains(t, j.Run(), "published_fingerprints")
}

func TestWALCheckpointJob(t *testing.T) {
	pub, ledger := testingpkg.NewTestDBs(t)
	j := NewWALCheckpointJob(map[string]*database.DB{"publishing": pub, "ledger": ledger, "missing": nil}, zerolog.Nop())

	assert.Equal(t, "wal_checkpoints", j.Name())
	assert.NoError(t, j.Run())
}
