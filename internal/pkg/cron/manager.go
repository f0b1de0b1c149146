package cron

import (
	"Rendezvous/internal/job"
	log "log/slog"

	"github.com/robfig/cron/v3"
)

const typingExpireSpec = "@every 1s"

type Manager struct {
	engine          *cron.Cron
	typingExpireJob *job.TypingExpireJob
}

func NewCronManager(typingExpireJob *job.TypingExpireJob) *Manager {
	return &Manager{
		engine: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		typingExpireJob: typingExpireJob,
	}
}

// RegisterJobs 注册定时任务
func (s *Manager) RegisterJobs() error {
	if _, err := s.engine.AddJob(typingExpireSpec, s.typingExpireJob); err != nil {
		return err
	}
	return nil
}

// Start 注册任务并启动引擎
func (s *Manager) Start() error {
	if err := s.RegisterJobs(); err != nil {
		return err
	}
	log.Info("Cron 定时任务引擎启动", "jobs", len(s.engine.Entries()))
	s.engine.Start()
	return nil
}

// Stop 等待正在执行的任务结束
func (s *Manager) Stop() {
	log.Info("Cron 定时任务引擎停止")
	<-s.engine.Stop().Done()
}
