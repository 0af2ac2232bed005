package anacrolix

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// checkpointRecord is the bencoded resume blob. Embedding the full metainfo
// lets a restored transfer skip metadata discovery entirely.
type checkpointRecord struct {
	InfoHash  string `bencode:"info_hash"`
	Name      string `bencode:"name"`
	SavePath  string `bencode:"save_path"`
	Completed int64  `bencode:"completed"`
	Length    int64  `bencode:"length"`
	Metainfo  []byte `bencode:"metainfo,omitempty"`
	SavedAt   int64  `bencode:"saved_at"`
}

func encodeCheckpoint(h *handle) ([]byte, error) {
	mi := h.torrent.Metainfo()
	var miBuf bytes.Buffer
	if err := mi.Write(&miBuf); err != nil {
		return nil, fmt.Errorf("serialize metainfo: %w", err)
	}

	record := checkpointRecord{
		InfoHash:  string(h.fp),
		Name:      h.torrent.Name(),
		SavePath:  h.savePath,
		Completed: h.torrent.BytesCompleted(),
		Length:    h.torrent.Length(),
		Metainfo:  miBuf.Bytes(),
		SavedAt:   time.Now().Unix(),
	}
	blob, err := bencode.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return blob, nil
}

func decodeCheckpoint(blob []byte) (checkpointRecord, error) {
	var record checkpointRecord
	if err := bencode.Unmarshal(blob, &record); err != nil {
		return record, fmt.Errorf("decode checkpoint: %w", err)
	}
	return record, nil
}

// specFromCheckpoint rebuilds a torrent spec from the metainfo embedded in a
// checkpoint blob.
func specFromCheckpoint(blob []byte) (*torrent.TorrentSpec, error) {
	record, err := decodeCheckpoint(blob)
	if err != nil {
		return nil, err
	}
	if len(record.Metainfo) == 0 {
		return nil, errors.New("checkpoint has no embedded metainfo")
	}
	mi, err := metainfo.Load(bytes.NewReader(record.Metainfo))
	if err != nil {
		return nil, fmt.Errorf("checkpoint metainfo: %w", err)
	}
	return torrent.TorrentSpecFromMetaInfoErr(mi)
}
