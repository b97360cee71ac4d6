package dump

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ndm-tool/ndm/internal/compress"
)

// Load reads and validates a dump directory. Any structural problem — missing
// manifest, unsupported format version, absent record file — is a FormatError.
func Load(dir string) (*Manifest, []RecordSet, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if os.IsNotExist(err) {
		return nil, nil, formatErrorf("%s not found in dump directory %s", ManifestFile, dir)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, formatErrorf("malformed manifest: %v", err)
	}
	if manifest.FormatVersion != FormatVersion {
		return nil, nil, formatErrorf("unsupported dump format version %d (expected %d)", manifest.FormatVersion, FormatVersion)
	}

	sets := make([]RecordSet, 0, len(manifest.Databases))
	for _, entry := range manifest.Databases {
		if entry.File == "" {
			return nil, nil, formatErrorf("invalid manifest: databases entry missing file")
		}
		set, err := readRecordSet(filepath.Join(dir, filepath.FromSlash(entry.File)), manifest.Compression)
		if err != nil {
			return nil, nil, err
		}
		sets = append(sets, set)
	}
	return &manifest, sets, nil
}

func readRecordSet(path, compression string) (RecordSet, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return RecordSet{}, formatErrorf("database dump file missing: %s", path)
	}
	if err != nil {
		return RecordSet{}, fmt.Errorf("open record set: %w", err)
	}
	defer file.Close()

	reader, err := compress.WrapReader(compression, file)
	if err != nil {
		return RecordSet{}, err
	}
	defer reader.Close()

	var set RecordSet
	if err := json.NewDecoder(reader).Decode(&set); err != nil {
		return RecordSet{}, formatErrorf("malformed record set %s: %v", path, err)
	}
	return set, nil
}
