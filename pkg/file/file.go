package file

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileOperations defines the read-only file access the supervisor needs:
// configuration, log tail bootstrap and sysfs counters. The supervisor never
// writes to the files it watches.
type FileOperations interface {
	IsFileExists(filePath string) (bool, error)
	ReadFile(filePath string) (string, error)
	ReadYamlFile(filePath string, v any) error
	ReadLastLines(filePath string, maxLines int) ([]string, error)
	ReadCounter(filePath string) (uint64, error)
}

// FileService implements the FileOperations interface using standard file
// operations.
type FileService struct{}

// NewFileService creates a new instance of FileService.
func NewFileService() *FileService {
	return &FileService{}
}

// IsFileExists checks if the file exists and returns boolean and error
func (fs *FileService) IsFileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return false, nil
	}

	// checking err == nil because of permission related error
	return err == nil, err
}

// ReadFile reads the contents of the file at filePath and returns it as a string.
func (fs *FileService) ReadFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadYamlFile reads and unmarshals YAML data from the given file.
func (fs *FileService) ReadYamlFile(filePath string, v any) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	return decoder.Decode(v)
}

// ReadLastLines returns up to maxLines of the most recent lines of the file,
// oldest first. Invalid UTF-8 bytes are passed through untouched; the caller
// decides what a line means.
func (fs *FileService) ReadLastLines(filePath string, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	// A ring over the last maxLines keeps memory bounded on large logs.
	ring := make([]string, 0, maxLines)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == maxLines {
			copy(ring, ring[1:])
			ring = ring[:maxLines-1]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}

// ReadCounter reads a numeric counter such as the sysfs network byte
// counters. A missing file propagates its error so callers can distinguish
// "gone" from "unreadable"; malformed content counts as zero.
func (fs *FileService) ReadCounter(filePath string) (uint64, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, nil
	}
	return value, nil
}
