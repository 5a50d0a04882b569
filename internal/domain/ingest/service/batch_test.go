package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/billing-ingest/internal/domain/ingest/model"
	"github.com/FACorreiaa/billing-ingest/pkg/storage"
)

// scriptedImporter answers each file according to its name
type scriptedImporter struct {
	mu    sync.Mutex
	kinds map[string]model.ReportKind
}

func (s *scriptedImporter) Import(_ context.Context, req FileRequest) (*model.ImportOutcome, error) {
	s.mu.Lock()
	if s.kinds == nil {
		s.kinds = make(map[string]model.ReportKind)
	}
	s.kinds[req.Name] = req.Kind
	s.mu.Unlock()

	outcome := model.NewImportOutcome(req.Name, req.Kind)
	outcome.Success = true
	switch {
	case strings.HasPrefix(req.Name, "broken"):
		return nil, &model.FileError{Stage: model.StageParsing, Err: errors.New("sheet has no header row")}
	case strings.HasPrefix(req.Name, "slow"):
		outcome.Inserted = 1
		outcome.MarkPartial(4, context.DeadlineExceeded)
	default:
		outcome.Inserted = 2
		outcome.Duplicates = 1
	}
	return outcome, nil
}

func newBatchArchive(t *testing.T, names ...string) (*storage.LocalArchive, string) {
	t.Helper()
	root := t.TempDir()
	archive, err := storage.NewLocalArchive(storage.Config{Root: root})
	require.NoError(t, err)
	for _, name := range names {
		_, err := archive.Save(context.Background(), name, strings.NewReader("data"))
		require.NoError(t, err)
	}
	return archive, root
}

func TestBatchRunner_Run(t *testing.T) {
	provider := "Servis__SDP_NTH_Apps_20250131.xlsx"
	archive, root := newBatchArchive(t, provider, "prepaid_jan.csv", "broken.csv", "slow.csv")
	importer := &scriptedImporter{}

	runner := NewBatchRunner(importer, archive, BatchOptions{Workers: 2, Kind: model.ReportPrepaid, OwnerID: orgID}, discardLogger())
	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchTotals{
		Files:      4,
		Imported:   2,
		Partial:    1,
		Fatal:      1,
		Inserted:   5,
		Duplicates: 2,
	}, result.Totals)

	assert.Equal(t, model.ReportProvider, importer.kinds[provider])
	assert.Equal(t, model.ReportPrepaid, importer.kinds["prepaid_jan.csv"])

	byName := make(map[string]FileResult)
	for _, f := range result.Files {
		byName[f.Name] = f
	}
	assert.Equal(t, filepath.Join(root, "providers", "nth", "reports", "2025", provider), byName[provider].MovedTo)
	assert.Equal(t, filepath.Join(root, "processed", "prepaid_jan.csv"), byName["prepaid_jan.csv"].MovedTo)
	assert.Contains(t, byName["broken.csv"].Error, "parsing")
	assert.True(t, strings.HasPrefix(filepath.Base(byName["broken.csv"].MovedTo), "20"))
	assert.FileExists(t, byName["broken.csv"].MovedTo)
	assert.Empty(t, byName["slow.csv"].MovedTo)

	left, err := archive.List(context.Background())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "slow.csv", left[0].Name)
}

func TestBatchRunner_ProviderReportsOnly(t *testing.T) {
	provider := "Servis_MicropaymentMerchantReport_NPay_Apps_"
	archive, _ := newBatchArchive(t, provider+"2025.xlsx", "prepaid_jan.csv")
	importer := &scriptedImporter{}

	result, err := NewBatchRunner(importer, archive, BatchOptions{}, discardLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Totals.Imported)
	assert.Equal(t, 1, result.Totals.Ignored)

	imported := make([]string, 0, len(importer.kinds))
	for name := range importer.kinds {
		imported = append(imported, name)
	}
	sort.Strings(imported)
	assert.Equal(t, []string{provider + "2025.xlsx"}, imported)

	left, err := archive.List(context.Background())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "prepaid_jan.csv", left[0].Name)
}

func TestBatchRunner_ParkingReports(t *testing.T) {
	cityPark := "Parking_CITY_PARK_20250131.xls"
	noviSad := "Servis__SDP_mParking_novi_sad_1234__20250131_0000.xls"
	archive, root := newBatchArchive(t, cityPark, noviSad)
	importer := &scriptedImporter{}

	result, err := NewBatchRunner(importer, archive, BatchOptions{}, discardLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Totals.Imported)
	assert.Equal(t, model.ReportParking, importer.kinds[cityPark])
	assert.Equal(t, model.ReportParking, importer.kinds[noviSad])

	byName := make(map[string]FileResult)
	for _, f := range result.Files {
		byName[f.Name] = f
	}
	assert.Equal(t, filepath.Join(root, "providers", "city-park", "reports", "2025", cityPark), byName[cityPark].MovedTo)
	assert.Equal(t, filepath.Join(root, "providers", "novi-sad", "reports", "2025", noviSad), byName[noviSad].MovedTo)
}

func TestBatchRunner_EmptyInbox(t *testing.T) {
	archive, _ := newBatchArchive(t)

	result, err := NewBatchRunner(&scriptedImporter{}, archive, BatchOptions{Workers: 4}, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	assert.Zero(t, result.Totals.Files)
}

type brokenArchive struct{ *storage.LocalArchive }

func (brokenArchive) List(context.Context) ([]*storage.FileInfo, error) {
	return nil, os.ErrPermission
}

func TestBatchRunner_ListFails(t *testing.T) {
	_, err := NewBatchRunner(&scriptedImporter{}, brokenArchive{}, BatchOptions{}, discardLogger()).Run(context.Background())
	assert.ErrorIs(t, err, os.ErrPermission)
}
