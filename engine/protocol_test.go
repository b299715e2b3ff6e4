package engine

import (
	"bytes"
	"errors"
	"testing"

	"clipdrop/models"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"file_done","payload":{"file_path":"/sandbox/f.jpg","bytes_total":100}}`)

	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxFrameSize+1)
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := ReadFrame(buffer); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	events := []Event{
		SingleProgress{Peer: models.Peer{IP: "10.0.0.2", ID: "peer-a"}, FileName: "f.jpg", BytesReceived: 50, BytesTotal: 100, Timestamp: 1},
		BatchProgress{Peer: models.Peer{IP: "10.0.0.2", ID: "peer-a", DeviceName: "Pixel"}, CurrentFileName: "b.txt", SentFileCount: 1, TotalFileCount: 3, CurrentFileSize: 10, TotalSize: 30, SentSize: 10, Timestamp: 2},
		FileError{Peer: models.Peer{IP: "10.0.0.2"}, FileName: "f.jpg", ErrorMessage: "peer went away"},
		FileDone{FilePath: "/sandbox/f.jpg", BytesTotal: 100},
		FolderDragNotify{Peer: models.Peer{IP: "10.0.0.2", ID: "peer-a"}, FolderName: "photos", Timestamp: 3},
		FileListDragNotify{Peer: models.Peer{IP: "10.0.0.2", ID: "peer-a", Platform: "android"}, FileCount: 2, TotalSize: 20, Timestamp: 4, FirstFileName: "a.txt", FirstFileSize: 10},
	}

	for _, event := range events {
		frame, err := EncodeEvent(event)
		if err != nil {
			t.Fatalf("EncodeEvent(%s) failed: %v", event.Type(), err)
		}

		decoded, err := DecodeEvent(frame)
		if err != nil {
			t.Fatalf("DecodeEvent(%s) failed: %v", event.Type(), err)
		}
		if decoded != event {
			t.Fatalf("decoded event mismatch: got %+v want %+v", decoded, event)
		}
	}
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"clipboard_text","payload":{}}`))
	if !errors.Is(err, ErrInvalidMessageType) {
		t.Fatalf("expected ErrInvalidMessageType, got %v", err)
	}

	if _, err := DecodeEvent([]byte(`{"payload":{}}`)); err != ErrInvalidMessageType {
		t.Fatalf("expected ErrInvalidMessageType for missing type, got %v", err)
	}
}

func TestDecodeEventRejectsMissingPayload(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"file_done"}`)); err == nil {
		t.Fatalf("expected error for missing payload")
	}
}
