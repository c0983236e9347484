package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/fiverow/fiverow/game"
)

// ArchiveRow is the flattened parquet rendering of a replay sample,
// optimized for long-term storage and trainer scans.
type ArchiveRow struct {
	GameID        string    `parquet:"game_id,dict"`
	MoveIndex     int32     `parquet:"move_index"`
	TotalMoves    int32     `parquet:"total_moves"`
	Player        string    `parquet:"player,dict"`
	BoardSize     int32     `parquet:"board_size"`
	State         string    `parquet:"state,zstd"`
	MCTSPolicy    []float32 `parquet:"mcts_policy"`
	TeacherPolicy []float32 `parquet:"teacher_policy"`
	TeacherValue  float32   `parquet:"teacher_value"`
	FinalValue    int32     `parquet:"final_value"`
	Source        string    `parquet:"source,dict"`
}

// ArchiveRowFrom flattens one sample. The board is stored in its compact
// string encoding rather than nested JSON.
func ArchiveRowFrom(s Sample) (ArchiveRow, error) {
	b, ok := s.State.Board()
	if !ok {
		return ArchiveRow{}, fmt.Errorf("sample %s/%d: ragged board", s.Meta.GameID, s.Meta.MoveIndex)
	}
	return ArchiveRow{
		GameID:        s.Meta.GameID,
		MoveIndex:     int32(s.Meta.MoveIndex),
		TotalMoves:    int32(s.Meta.TotalMoves),
		Player:        s.Player,
		BoardSize:     int32(b.Size()),
		State:         b.Encode(),
		MCTSPolicy:    s.MCTSPolicy,
		TeacherPolicy: s.TeacherPolicy,
		TeacherValue:  s.TeacherValue,
		FinalValue:    int32(s.FinalValue),
		Source:        s.Meta.Source,
	}, nil
}

// Board decodes the stored state back into a game board.
func (r ArchiveRow) Board() (game.Board, bool) {
	return game.DecodeBoard(r.State)
}

// WriteArchiveParquet writes rows to outPath via a temp file and an atomic
// rename, zstd-compressed.
func WriteArchiveParquet(outPath string, rows []ArchiveRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "replay_sample_v1"),
	); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return nil
}

// ReadArchiveParquet loads a full archive file, used by verification tools.
func ReadArchiveParquet(path string) ([]ArchiveRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	rows, err := parquet.Read[ArchiveRow](f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
