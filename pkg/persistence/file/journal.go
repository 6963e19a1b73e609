package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
)

const maxJournalLine = 4 << 20

func (fp *Persistence) journalPath(submissionID string) string {
	return filepath.Join(fp.root, "journal", submissionID+".jsonl")
}

// AppendJournal appends one JSON line per record and syncs it before returning.
func (fp *Persistence) AppendJournal(_ context.Context, record models.JournalRecord) error {
	if err := persistence.ValidateSubmissionID(record.SubmissionID); err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	path := fp.journalPath(record.SubmissionID)

	err = os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304 -- submissionID is validated
	if err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	if err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	err = f.Sync()
	if err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	return nil
}

// Journal returns the records ordered by sequence. A replayed sequence keeps its latest line.
func (fp *Persistence) Journal(_ context.Context, submissionID string) ([]models.JournalRecord, error) {
	if err := persistence.ValidateSubmissionID(submissionID); err != nil {
		return nil, persistence.NewSnapshotError("Journal", submissionID, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	f, err := os.Open(fp.journalPath(submissionID)) // #nosec G304 -- submissionID is validated
	if err != nil {
		if os.IsNotExist(err) {
			return []models.JournalRecord{}, nil
		}

		return nil, persistence.NewSnapshotError("Journal", submissionID, err)
	}
	defer f.Close()

	bySeq := map[int64]models.JournalRecord{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record models.JournalRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, persistence.NewSnapshotError("Journal", submissionID, err)
		}

		bySeq[record.Seq] = record
	}

	if err := scanner.Err(); err != nil {
		return nil, persistence.NewSnapshotError("Journal", submissionID, err)
	}

	records := make([]models.JournalRecord, 0, len(bySeq))
	for _, record := range bySeq {
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	return records, nil
}
