package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

var (
	WarningLog *log.Logger
	InfoLog    *log.Logger
	ErrorLog   *log.Logger

	// File-only loggers for noisy server paths. When the server is embedded in a
	// host application that owns the terminal, writing to stdout corrupts its UI,
	// so request/WebSocket handlers log here instead.
	FileOnlyInfoLog    *log.Logger
	FileOnlyWarningLog *log.Logger
	FileOnlyErrorLog   *log.Logger
)

var logFileName = filepath.Join(os.TempDir(), "cmuxremote.log")

var globalLogFile *os.File

// Initialize should be called once at the beginning of the program to set up logging.
// defer Close() after calling this function. Console loggers mirror to the file in
// the os temp directory; the FileOnly loggers write to the file alone.
func Initialize() {
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("could not open log file: %s", err))
	}

	InfoLog = log.New(io.MultiWriter(os.Stdout, f), "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	WarningLog = log.New(io.MultiWriter(os.Stderr, f), "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(io.MultiWriter(os.Stderr, f), "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	FileOnlyInfoLog = log.New(f, "WEB-INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	FileOnlyWarningLog = log.New(f, "WEB-WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	FileOnlyErrorLog = log.New(f, "WEB-ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	globalLogFile = f
}

// InitializeQuiet is like Initialize but keeps every logger file-only. Used when
// the process shares a terminal with an interactive session (the attach command).
func InitializeQuiet() {
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("could not open log file: %s", err))
	}

	InfoLog = log.New(f, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	WarningLog = log.New(f, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(f, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)

	FileOnlyInfoLog = InfoLog
	FileOnlyWarningLog = WarningLog
	FileOnlyErrorLog = ErrorLog

	globalLogFile = f
}

func Close() {
	_ = globalLogFile.Close()
	fmt.Println("wrote logs to " + logFileName)
}
