package ports

// ReportWriterPort renders command results to a file in yaml or json.
type ReportWriterPort interface {
	Write(path string, format string, value any) error
}
