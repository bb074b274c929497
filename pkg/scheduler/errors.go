package scheduler

import "errors"

var (
	errEmptyChatID     = errors.New("chat id must not be empty")
	errEmptyMessage    = errors.New("send_text task requires a non-empty message")
	errEmptyFilePath   = errors.New("send_file/send_voice task requires a non-empty file path")
	errUnknownAction   = errors.New("send_action task requires action typing or looking")
	errUnknownTaskKind = errors.New("unknown task kind")
)
