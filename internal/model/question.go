package model

import "time"

// Taxonomy names used by the term hierarchy.
const (
	TaxonomySubject = "subject"
	TaxonomySection = "section"
)

// Term is a node of the external taxonomy hierarchy.
type Term struct {
	ID       int64  `json:"id"`
	Taxonomy string `json:"taxonomy"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Name     string `json:"name"`
}

// Candidate is a question as seen by the pool selector.
// SectionSeq is the declared in-section sequence number, when any.
type Candidate struct {
	ID         int64 `json:"id"`
	GroupID    int64 `json:"group_id"`
	TopicID    int64 `json:"topic_id"`
	SectionSeq *int  `json:"section_seq,omitempty"`
	Published  bool  `json:"published"`
	Reported   bool  `json:"reported"`
}

// Eligible reports whether the candidate passes the common exclusions.
func (c Candidate) Eligible() bool {
	return c.Published && !c.Reported
}

// PoolQuery filters the question catalog.
// A nil TopicIDs slice means no topic restriction.
type PoolQuery struct {
	TopicIDs          []int64
	PreviousYearOnly  bool
	SectionID         *int64
	ExcludeAnsweredBy *int
}

// Scope is a principal's subject allow-list.
type Scope struct {
	Unrestricted bool    `json:"unrestricted"`
	SubjectIDs   []int64 `json:"subject_ids,omitempty"`
}

// Allows reports whether the subject is inside the scope.
func (s Scope) Allows(subjectID int64) bool {
	if s.Unrestricted {
		return true
	}
	for _, id := range s.SubjectIDs {
		if id == subjectID {
			return true
		}
	}
	return false
}

// RevisionRecord marks a question as already shown to a principal for a topic.
type RevisionRecord struct {
	PrincipalID int       `json:"principal_id"`
	QuestionID  int64     `json:"question_id"`
	TopicID     int64     `json:"topic_id"`
	ShownAt     time.Time `json:"shown_at"`
}
