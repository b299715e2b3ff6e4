package engine

import "clipdrop/models"

// Event is one callback reported by the P2P engine. The concrete types below
// are the only implementations.
type Event interface {
	Type() string
}

// SingleProgress reports bytes received for one file.
type SingleProgress struct {
	models.Peer
	FileName      string `json:"file_name"`
	BytesReceived int64  `json:"bytes_received"`
	BytesTotal    int64  `json:"bytes_total"`
	Timestamp     int64  `json:"timestamp"`
}

// BatchProgress reports cumulative counters for a multi-file or folder batch.
type BatchProgress struct {
	models.Peer
	CurrentFileName string `json:"current_file_name"`
	SentFileCount   int    `json:"sent_file_count"`
	TotalFileCount  int    `json:"total_file_count"`
	CurrentFileSize int64  `json:"current_file_size"`
	TotalSize       int64  `json:"total_size"`
	SentSize        int64  `json:"sent_size"`
	Timestamp       int64  `json:"timestamp"`
}

// FileError reports an engine-side failure for one file.
type FileError struct {
	models.Peer
	FileName     string `json:"file_name"`
	ErrorMessage string `json:"error_message"`
}

// FileDone reports a file fully written into the sandbox.
type FileDone struct {
	FilePath   string `json:"file_path"`
	BytesTotal int64  `json:"bytes_total"`
}

// FolderDragNotify announces an incoming folder batch.
type FolderDragNotify struct {
	models.Peer
	FolderName string `json:"folder_name"`
	Timestamp  int64  `json:"timestamp"`
}

// FileListDragNotify announces an incoming multi-file batch.
type FileListDragNotify struct {
	models.Peer
	FileCount     int    `json:"file_count"`
	TotalSize     int64  `json:"total_size"`
	Timestamp     int64  `json:"timestamp"`
	FirstFileName string `json:"first_file_name"`
	FirstFileSize int64  `json:"first_file_size"`
}

func (SingleProgress) Type() string { return TypeSingleProgress }
func (BatchProgress) Type() string { return TypeBatchProgress }
func (FileError) Type() string { return TypeFileError }
func (FileDone) Type() string { return TypeFileDone }
func (FolderDragNotify) Type() string { return TypeFolderDragNotify }
func (FileListDragNotify) Type() string { return TypeFileListDragNotify }
