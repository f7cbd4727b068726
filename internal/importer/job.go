// Пакет importer — пакетное вступление в каналы по CSV-списку: валидация
// ссылок против Telegram, последовательные вступления с паузами и добавление
// вступивших каналов в целевую папку, откуда их подберёт дискавери.
package importer

import (
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"
)

// JobState — жизненный цикл задания импорта.
type JobState string

const (
	JobUploading  JobState = "uploading"
	JobValidating JobState = "validating"
	JobReady      JobState = "ready"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobCancelled  JobState = "cancelled"
)

// CandidateState — жизненный цикл одного кандидата внутри задания.
type CandidateState string

const (
	CandidatePending          CandidateState = "pending"
	CandidateValidated        CandidateState = "validated"
	CandidateValidationFailed CandidateState = "validation_failed"
	CandidateAlreadyMember    CandidateState = "already_member"
	CandidateJoined           CandidateState = "joined"
	CandidateJoinFailed       CandidateState = "join_failed"
)

// Candidate — одна строка CSV на пути от ссылки к вступлению.
type Candidate struct {
	Ref    string
	State  CandidateState
	Reason string

	// Заполняются валидацией.
	Title    string
	Username string

	channel *tg.Channel
}

// Job — одно задание импорта со списком кандидатов.
type Job struct {
	ID         string
	State      JobState
	Candidates []*Candidate
	CreatedAt  time.Time
}

// NewJob создаёт задание из списка ссылок.
func NewJob(refs []string) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		State:     JobUploading,
		CreatedAt: time.Now().UTC(),
	}
	for _, ref := range refs {
		job.Candidates = append(job.Candidates, &Candidate{Ref: ref, State: CandidatePending})
	}
	return job
}

// Summary — итоговые счётчики задания по состояниям кандидатов.
type Summary struct {
	Total            int
	Validated        int
	ValidationFailed int
	AlreadyMember    int
	Joined           int
	JoinFailed       int
}

// Summarize пересчитывает кандидатов по состояниям.
func (j *Job) Summarize() Summary {
	s := Summary{Total: len(j.Candidates)}
	for _, c := range j.Candidates {
		switch c.State {
		case CandidateValidated:
			s.Validated++
		case CandidateValidationFailed:
			s.ValidationFailed++
		case CandidateAlreadyMember:
			s.AlreadyMember++
		case CandidateJoined:
			s.Joined++
		case CandidateJoinFailed:
			s.JoinFailed++
		}
	}
	return s
}
