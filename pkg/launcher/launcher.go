package launcher

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/monitoring"
	"github.com/iammrherb/labdabbler/pkg/provider"
	"github.com/iammrherb/labdabbler/pkg/state"
	"github.com/iammrherb/labdabbler/pkg/topology"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// ProviderSource resolves provider names to runtime providers. An empty
// name selects the default provider.
type ProviderSource interface {
	GetProvider(name string) (provider.Provider, error)
}

// Service drives the lab lifecycle: launch, stop, status and listing.
// Registry writes happen only after the runtime operations they describe
// have succeeded, so the registry never claims a lab that never deployed.
type Service struct {
	providers      ProviderSource
	store          state.Store
	scratchDir     string
	remoteStageDir string
	metrics        *monitoring.Metrics
	logger         *logging.Logger
}

// NewService builds a lifecycle service. metrics may be nil when the
// caller runs without instrumentation.
func NewService(providers ProviderSource, store state.Store, scratchDir, remoteStageDir string, metrics *monitoring.Metrics) *Service {
	return &Service{
		providers:      providers,
		store:          store,
		scratchDir:     scratchDir,
		remoteStageDir: remoteStageDir,
		metrics:        metrics,
		logger:         logging.WithComponent("launcher"),
	}
}

// Launch deploys a topology from a local path or an http(s) URL on the
// named provider and registers the resulting lab. Any failure before and
// including the deploy leaves the registry untouched.
func (s *Service) Launch(ctx context.Context, source, providerName string) (*types.LaunchResult, error) {
	started := time.Now()

	localPath, err := s.resolveSource(ctx, source)
	if err != nil {
		return nil, err
	}

	def, err := topology.ParseFile(localPath)
	if err != nil {
		return nil, err
	}

	// containerlab identifies the topology by its name field; the
	// filename is only a fallback when the field is absent.
	name := def.Name
	if name == "" {
		name = topology.DeriveName(localPath)
	}
	labID := uuid.NewString()[:8]

	p, err := s.providers.GetProvider(providerName)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"lab_id":   labID,
		"lab":      name,
		"provider": p.Name(),
	})

	// Probe containerlab before touching anything on the runtime host.
	probe, err := p.ExecuteCommand(ctx, []string{"containerlab", "version"}, "")
	if err != nil {
		s.countLaunchFailure(p.Name(), "probe")
		return nil, err
	}
	if probe.ExitCode != 0 {
		s.countLaunchFailure(p.Name(), "probe")
		return nil, fmt.Errorf("provider %q: %w: %s", p.Name(), laberrors.ErrToolUnavailable, probe.Stderr)
	}

	deployFile := localPath
	if p.Type() != types.ProviderTypeLocal {
		deployFile = path.Join(s.remoteStageDir, labID, filepath.Base(localPath))
		if err := p.UploadFile(ctx, localPath, deployFile); err != nil {
			s.countLaunchFailure(p.Name(), "stage")
			return nil, fmt.Errorf("failed to stage topology: %w", err)
		}
		log.Debug("staged topology to %s", deployFile)
	}

	result, err := p.ExecuteCommand(ctx, []string{"containerlab", "deploy", "-t", deployFile}, "")
	if err != nil {
		s.countLaunchFailure(p.Name(), "deploy")
		s.recordEvent(ctx, labID, types.EventTypeLabLaunchFailed, map[string]string{"error": err.Error()})
		return nil, err
	}
	if result.ExitCode != 0 {
		s.countLaunchFailure(p.Name(), "deploy")
		terr := &laberrors.ToolError{
			Command:  "containerlab deploy",
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
		s.recordEvent(ctx, labID, types.EventTypeLabLaunchFailed, map[string]string{"error": terr.Error()})
		return nil, terr
	}

	lab := &types.Lab{
		ID:           labID,
		Name:         name,
		OriginalFile: localPath,
		Provider:     p.Name(),
		Status:       types.LabStatusRunning,
		CreatedAt:    time.Now().UTC(),
		Config:       def,
	}
	if err := s.store.CreateLab(ctx, lab); err != nil {
		// The lab is running but unregistered; surface that clearly.
		return nil, fmt.Errorf("lab deployed but registration failed: %w", err)
	}

	s.recordEvent(ctx, labID, types.EventTypeLabLaunched, map[string]string{"provider": p.Name()})
	if s.metrics != nil {
		s.metrics.LabsLaunched.WithLabelValues(p.Name()).Inc()
		s.metrics.LaunchDuration.WithLabelValues(p.Name()).Observe(time.Since(started).Seconds())
	}
	log.Info("lab launched")

	return &types.LaunchResult{
		LabID:    labID,
		Name:     name,
		Provider: p.Name(),
		File:     localPath,
		Stdout:   result.Stdout,
	}, nil
}

// resolveSource turns the launch source into a local topology file path,
// downloading URLs into the scratch directory.
func (s *Service) resolveSource(ctx context.Context, source string) (string, error) {
	if topology.IsURL(source) {
		return topology.Fetch(ctx, source, s.scratchDir)
	}
	if _, err := os.Stat(source); err != nil {
		return "", fmt.Errorf("topology %q: %w", source, laberrors.ErrLabFileNotFound)
	}
	return source, nil
}

// Stop destroys a lab and removes it from the registry. The registry
// entry is removed even when the destroy command fails, so a broken
// runtime cannot wedge the registry; the destroy failure is reported in
// the result. A missing original topology file is terminal and leaves the
// entry in place.
func (s *Service) Stop(ctx context.Context, labID string) (*types.StopResult, error) {
	lab, err := s.store.GetLab(ctx, labID)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(lab.OriginalFile); err != nil {
		return nil, fmt.Errorf("lab %q: %w: %s", labID, laberrors.ErrOriginalFileMissing, lab.OriginalFile)
	}

	p, err := s.providers.GetProvider(lab.Provider)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"lab_id":   labID,
		"lab":      lab.Name,
		"provider": lab.Provider,
	})

	destroyFile := lab.OriginalFile
	if p.Type() != types.ProviderTypeLocal {
		destroyFile = path.Join(s.remoteStageDir, labID, filepath.Base(lab.OriginalFile))
		// Re-stage in case the remote copy was cleaned up; the destroy
		// still runs against whatever is there if this fails.
		if err := p.UploadFile(ctx, lab.OriginalFile, destroyFile); err != nil {
			log.WithError(err).Warn("failed to re-stage topology for destroy")
		}
	}

	var destroyErr string
	result, err := p.ExecuteCommand(ctx, []string{"containerlab", "destroy", "-t", destroyFile}, "")
	if err != nil {
		destroyErr = err.Error()
	} else if result.ExitCode != 0 {
		destroyErr = (&laberrors.ToolError{
			Command:  "containerlab destroy",
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}).Error()
	}

	// Cleanup over correctness: the registry entry goes away regardless
	// of how the destroy went.
	if err := s.store.DeleteLab(ctx, labID); err != nil {
		return nil, fmt.Errorf("failed to deregister lab: %w", err)
	}

	if destroyErr != "" {
		log.Warn("destroy failed, lab deregistered anyway: %s", destroyErr)
		s.recordEvent(ctx, labID, types.EventTypeLabDestroyFailed, map[string]string{"error": destroyErr})
		if s.metrics != nil {
			s.metrics.DestroyFailures.WithLabelValues(lab.Provider).Inc()
		}
	} else {
		log.Info("lab stopped")
		s.recordEvent(ctx, labID, types.EventTypeLabStopped, map[string]string{"provider": lab.Provider})
	}
	if s.metrics != nil {
		s.metrics.LabsStopped.WithLabelValues(lab.Provider).Inc()
	}

	return &types.StopResult{
		LabID:        labID,
		Name:         lab.Name,
		DestroyError: destroyErr,
	}, nil
}

// Status reports on a lab without ever failing: an unknown lab ID yields
// Found false, and a provider that cannot be queried yields status
// unknown rather than an error.
func (s *Service) Status(ctx context.Context, labID string) *types.LabInfo {
	lab, err := s.store.GetLab(ctx, labID)
	if err != nil {
		return &types.LabInfo{Found: false, LabID: labID}
	}

	info := &types.LabInfo{
		Found:     true,
		LabID:     lab.ID,
		Name:      lab.Name,
		Provider:  lab.Provider,
		Status:    s.liveStatus(ctx, lab),
		CreatedAt: lab.CreatedAt,
	}
	if lab.Config != nil {
		info.NodeCount = lab.Config.NodeCount()
	}
	return info
}

// liveStatus asks the lab's provider whether containerlab still knows the
// topology by name. A provider that cannot be resolved or reached reads
// as unknown.
func (s *Service) liveStatus(ctx context.Context, lab *types.Lab) types.LabStatus {
	p, err := s.providers.GetProvider(lab.Provider)
	if err != nil {
		return types.LabStatusUnknown
	}

	result, err := p.ExecuteCommand(ctx, []string{"containerlab", "inspect", "--name", lab.Name}, "")
	if err != nil {
		return types.LabStatusUnknown
	}
	if result.ExitCode == 0 {
		return types.LabStatusRunning
	}
	return types.LabStatusStopped
}

// ListActive returns every registered lab. Status is re-derived from the
// runtime per lab, concurrently, so a lab destroyed outside this service
// does not keep listing as running.
func (s *Service) ListActive(ctx context.Context) ([]*types.LabInfo, error) {
	labs, err := s.store.ListLabs(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]*types.LabInfo, len(labs))
	var wg sync.WaitGroup
	for i, lab := range labs {
		info := &types.LabInfo{
			Found:     true,
			LabID:     lab.ID,
			Name:      lab.Name,
			Provider:  lab.Provider,
			Status:    types.LabStatusUnknown,
			CreatedAt: lab.CreatedAt,
		}
		if lab.Config != nil {
			info.NodeCount = lab.Config.NodeCount()
		}
		infos[i] = info

		wg.Add(1)
		go func(lab *types.Lab, info *types.LabInfo) {
			defer wg.Done()
			info.Status = s.liveStatus(ctx, lab)
		}(lab, info)
	}
	wg.Wait()

	if s.metrics != nil {
		s.metrics.ActiveLabs.Set(float64(len(infos)))
	}
	return infos, nil
}

// Events returns the recorded lifecycle events for a lab, newest first.
func (s *Service) Events(ctx context.Context, labID string, limit int) ([]*types.Event, error) {
	return s.store.GetEvents(ctx, labID, limit)
}

func (s *Service) recordEvent(ctx context.Context, labID string, eventType types.EventType, data map[string]string) {
	event := &types.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		LabID:     labID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	if err := s.store.RecordEvent(ctx, event); err != nil {
		s.logger.WithError(err).Warn("failed to record event %s for lab %s", eventType, labID)
	}
}

func (s *Service) countLaunchFailure(providerName, stage string) {
	if s.metrics != nil {
		s.metrics.LaunchFailures.WithLabelValues(providerName, stage).Inc()
	}
}
