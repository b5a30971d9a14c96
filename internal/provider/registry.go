package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tempmailhub/backend/internal/domain"
)

// Factory 按渠道配置构造一个适配器实例。
type Factory struct {
	Name string
	New  func(cfg domain.ChannelConfiguration) (Provider, error)
}

// Registry 持有已配置的渠道适配器集合，按渠道名索引。
//
// 初始化是进程级幂等的单飞操作：并发的首批调用者只会观察到
// 一次初始化尝试并共享其结果；失败后内部状态回到未初始化，
// 后续请求可以干净地重试，不会卡在失败态。
type Registry struct {
	factories []Factory
	configs   map[string]domain.ChannelConfiguration
	priority  []string
	logger    *zap.Logger

	sf    singleflight.Group
	ready atomic.Bool

	mu        sync.RWMutex
	providers map[string]Provider
	order     []string // 启用渠道的优先级顺序
}

// NewRegistry 创建注册表。configs 以渠道名为键；priority 决定
// 无指定渠道时 createEmail 的尝试顺序。
func NewRegistry(factories []Factory, configs map[string]domain.ChannelConfiguration, priority []string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factories: factories,
		configs:   configs,
		priority:  priority,
		logger:    logger,
	}
}

// Initialize 构建所有启用的适配器。幂等、单飞、失败后可重试。
func (r *Registry) Initialize(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err, _ := r.sf.Do("initialize", func() (interface{}, error) {
		// 双重检查：前一个单飞已经成功时直接返回
		if r.ready.Load() {
			return nil, nil
		}

		providers, order, err := r.build()
		if err != nil {
			r.logger.Error("provider registry initialization failed", zap.Error(err))
			return nil, err
		}

		r.mu.Lock()
		r.providers = providers
		r.order = order
		r.mu.Unlock()
		r.ready.Store(true)

		r.logger.Info("provider registry initialized",
			zap.Int("providers", len(providers)),
			zap.Strings("priority", order),
		)
		return nil, nil
	})
	return err
}

// Initialized 报告注册表是否已就绪。
func (r *Registry) Initialized() bool {
	return r.ready.Load()
}

// build 依照工厂列表构建启用的适配器，并推导优先级顺序。
func (r *Registry) build() (map[string]Provider, []string, error) {
	providers := make(map[string]Provider, len(r.factories))
	for _, factory := range r.factories {
		cfg, ok := r.configs[factory.Name]
		if !ok || !cfg.Enabled {
			r.logger.Debug("channel disabled, skipping", zap.String("channel", factory.Name))
			continue
		}
		cfg.Name = factory.Name

		p, err := factory.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize channel %s: %w", factory.Name, err)
		}
		providers[factory.Name] = p
	}

	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("no enabled channels configured")
	}

	// 优先级列表里启用的渠道排前面，剩余渠道按工厂顺序补齐
	order := make([]string, 0, len(providers))
	seen := make(map[string]struct{}, len(providers))
	for _, name := range r.priority {
		if _, ok := providers[name]; ok {
			order = append(order, name)
			seen[name] = struct{}{}
		}
	}
	for _, factory := range r.factories {
		if _, ok := providers[factory.Name]; ok {
			if _, dup := seen[factory.Name]; !dup {
				order = append(order, factory.Name)
			}
		}
	}

	return providers, order, nil
}

// Get 按名称取适配器。
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// All 按优先级顺序返回全部已启用适配器。
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

// Names 按优先级顺序返回全部渠道名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ResolveByDomain 按域名推断签发渠道。
//
// 逐一匹配每个适配器声明的域名集合；Domains() 为空的渠道
// （上游动态分配域名）永远不会被推断命中。
func (r *Registry) ResolveByDomain(emailDomain string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		p := r.providers[name]
		for _, d := range p.Domains() {
			if d == emailDomain {
				return p, true
			}
		}
	}
	return nil, false
}
