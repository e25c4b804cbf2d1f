package content

// ProcessedBody is the persistence decision for one side of a call.
type ProcessedBody struct {
	AllowSavingToDB bool
	Content         []byte
	ContentType     string
	Encoding        string
}

// Processor applies the content type allow-list and the size ceiling.
type Processor struct {
	Rules Rules
}

// NewProcessor returns a Processor over rules.
func NewProcessor(rules Rules) *Processor {
	return &Processor{Rules: rules}
}

// Process decides whether the body of m may be persisted. Content is never nil.
func (p *Processor) Process(m Message, maxContentLength int64) ProcessedBody {
	contentType, encoding := ParseContentTypeHeader(m.Header)
	if encoding == "" {
		encoding = p.Rules.DefaultEncoding(contentType)
	}

	allow := p.Rules.CheckContentType(contentType) && CheckContentLength(m, maxContentLength)

	body := []byte{}
	if allow && len(m.Body) > 0 {
		body = append(body, m.Body...)
	}

	return ProcessedBody{
		AllowSavingToDB: allow,
		Content:         body,
		ContentType:     contentType,
		Encoding:        encoding,
	}
}
