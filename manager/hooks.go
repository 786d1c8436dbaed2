package manager

import "github.com/corenet/mselector"

// The methods below satisfy mselector.ManagerHooks (spec.md §6); a
// SelectorManager is passed as the manager argument to every shard's
// mselector.NewManagedSelector.

func (m *SelectorManager) NewSelector() (any, error) { return nil, nil }

// Accepted is called once per descriptor an Acceptor drains. It hands the
// descriptor to whichever shard it hashes to — possibly a different shard
// than the one running the Acceptor — completing the cross-shard handoff
// spec.md §2's sharding line implies but does not spell out.
func (m *SelectorManager) Accepted(fd int) {
	if err := m.shardFor(fd).Accept(fd, nil); err != nil {
		m.log.Warn().Err(err).Int("fd", fd).Msg("manager: accept handoff rejected")
	}
}

func (m *SelectorManager) OnAccepting(fd int) {
	m.log.Debug().Int("fd", fd).Msg("manager: accepting")
}

// OnAccepted builds the endpoint for a descriptor that has been registered
// via Accept, then activates it on its owning shard so subsequent
// readiness events reach the endpoint instead of the raw attachment.
func (m *SelectorManager) OnAccepted(fd int) {
	shard := m.shardFor(fd)
	ep, err := m.newEndpoint(shard, fd, nil)
	if err != nil {
		m.log.Warn().Err(err).Int("fd", fd).Msg("manager: endpoint construction failed")
		return
	}
	if err := shard.Activate(fd, ep); err != nil {
		m.log.Warn().Err(err).Int("fd", fd).Msg("manager: activate failed")
		return
	}
	m.EndPointOpened(ep)
}

func (m *SelectorManager) OnAcceptFailed(fd int, cause error) {
	m.log.Warn().Err(cause).Int("fd", fd).Msg("manager: accept failed")
}

func (m *SelectorManager) ConnectionFailed(fd int, cause error, attachment any) {
	m.log.Warn().Err(cause).Int("fd", fd).Msg("manager: connect failed")
}

func (m *SelectorManager) ConnectionOpened(ep mselector.Selectable) {
	m.log.Debug().Msg("manager: connection opened")
}

func (m *SelectorManager) ConnectionClosed(ep mselector.Selectable) {
	m.log.Debug().Msg("manager: connection closed")
}

func (m *SelectorManager) EndPointOpened(ep mselector.Selectable) {
	m.log.Debug().Msg("manager: endpoint opened")
}

func (m *SelectorManager) EndPointClosed(ep mselector.Selectable) {
	m.log.Debug().Msg("manager: endpoint closed")
}

var _ mselector.ManagerHooks = (*SelectorManager)(nil)
