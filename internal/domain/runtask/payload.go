package runtask

// TaskResultPayload is the JSON:API document PATCHed to the task result callback URL.
type TaskResultPayload struct {
	Data TaskResultData `json:"data"`
}

// TaskResultData is the primary resource of a TaskResultPayload.
type TaskResultData struct {
	Type          string                  `json:"type"`
	Attributes    TaskResultAttributes    `json:"attributes"`
	Relationships TaskResultRelationships `json:"relationships"`
}

// TaskResultAttributes carries the verdict.
type TaskResultAttributes struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// TaskResultRelationships links the outcomes of a task result.
type TaskResultRelationships struct {
	Outcomes OutcomeList `json:"outcomes"`
}

// OutcomeList wraps outcome resources.
type OutcomeList struct {
	Data []OutcomeResource `json:"data"`
}

// OutcomeResource is the JSON:API form of an Outcome.
type OutcomeResource struct {
	Type       string            `json:"type"`
	Attributes OutcomeAttributes `json:"attributes"`
}

// OutcomeAttributes are the attributes of an OutcomeResource.
type OutcomeAttributes struct {
	OutcomeID   string `json:"outcome-id"`
	Description string `json:"description"`
	Body        string `json:"body"`
	Tags        Tags   `json:"tags"`
}

// NewTaskResultPayload converts a Result into its callback document.
func NewTaskResultPayload(r Result) TaskResultPayload {
	outcomes := make([]OutcomeResource, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		tags := o.Tags
		if tags.Status == nil && tags.Severity == nil {
			tags = DefaultTags()
		}
		outcomes = append(outcomes, OutcomeResource{
			Type: "task-result-outcomes",
			Attributes: OutcomeAttributes{
				OutcomeID:   o.OutcomeID,
				Description: o.Description,
				Body:        Truncate(o.Body, MaxOutcomeBody),
				Tags:        tags,
			},
		})
	}
	return TaskResultPayload{
		Data: TaskResultData{
			Type: "task-results",
			Attributes: TaskResultAttributes{
				Status:  r.Status,
				Message: r.Message,
				URL:     r.URL,
			},
			Relationships: TaskResultRelationships{
				Outcomes: OutcomeList{Data: outcomes},
			},
		},
	}
}
