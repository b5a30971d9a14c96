package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmailhub/backend/internal/cache"
	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/monitoring"
	"tempmailhub/backend/internal/provider"
)

// aggregatorName 聚合层自身产生的信封所标注的来源。
const aggregatorName = "aggregator"

// 健康快照缓存键与默认缓存时长。
const (
	healthCacheKey = "providers:health"
	healthCacheTTL = 30 * time.Second
)

// MailService 聚合编排层。
//
// 负责为每次调用解析目标渠道（显式指定、按域名推断、
// 或按优先级顺序逐个尝试），调用适配器并把结果归一化为
// 统一信封；自身不持有任何渠道私有状态。
type MailService struct {
	registry *provider.Registry
	cache    *cache.LocalCache
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewMailService 创建聚合服务。metrics 可为 nil（测试场景）。
func NewMailService(registry *provider.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *MailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailService{
		registry: registry,
		cache:    cache.NewLocalCache(healthCacheTTL),
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateEmail 创建临时邮箱。
//
// 指定渠道时只路由到该渠道；未指定时按配置的优先级顺序
// 逐个尝试启用的渠道，直到某个渠道成功分配地址为止。
// 一旦有渠道分配出地址就立即返回，绝不再请求第二个渠道
// （跨渠道的地址创建不是幂等操作）。
func (s *MailService) CreateEmail(ctx context.Context, req domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse] {
	start := time.Now()
	if err := s.ensureInitialized(ctx); err != nil {
		return domain.Fail[domain.CreateEmailResponse](aggregatorName, err, time.Since(start))
	}

	if err := domain.ValidatePrefix(req.Prefix); err != nil {
		return domain.Fail[domain.CreateEmailResponse](aggregatorName,
			domain.NewChannelError(domain.ErrorTypeAPI, aggregatorName, err.Error()), time.Since(start))
	}
	if req.Domain != "" {
		if err := domain.ValidateDomain(req.Domain); err != nil {
			return domain.Fail[domain.CreateEmailResponse](aggregatorName,
				domain.NewChannelError(domain.ErrorTypeAPI, aggregatorName, err.Error()), time.Since(start))
		}
	}

	if req.Provider != "" {
		target, ok := s.registry.Get(req.Provider)
		if !ok {
			return domain.Fail[domain.CreateEmailResponse](aggregatorName,
				domain.NewChannelError(domain.ErrorTypeConfiguration, aggregatorName,
					fmt.Sprintf("unknown provider: %s", req.Provider)), time.Since(start))
		}
		resp := target.CreateEmail(ctx, req)
		s.recordCall(target.Name(), "create", resp.Success, resp.Metadata)
		return resp
	}

	candidates := s.createCandidates(req)
	if len(candidates) == 0 {
		return domain.Fail[domain.CreateEmailResponse](aggregatorName,
			domain.NewChannelError(domain.ErrorTypeConfiguration, aggregatorName,
				"no enabled provider supports this creation request"), time.Since(start))
	}

	var lastErr *domain.ChannelError
	for _, target := range candidates {
		resp := target.CreateEmail(ctx, req)
		s.recordCall(target.Name(), "create", resp.Success, resp.Metadata)
		if resp.Success {
			return resp
		}
		lastErr = resp.Error
		s.logger.Warn("provider failed to allocate address, trying next in priority order",
			zap.String("channel", target.Name()),
			zap.Error(resp.Error),
		)
	}

	return domain.Fail[domain.CreateEmailResponse](aggregatorName, lastErr, time.Since(start))
}

// createCandidates 按优先级给出可受理创建请求的渠道。
//
// 能力检查在发起任何网络调用之前完成：请求带域名偏好时，
// 只保留声明 customDomains 且服务该域名的渠道——落到会静默
// 忽略偏好的渠道只会分配出错误域名的地址。
func (s *MailService) createCandidates(req domain.CreateEmailRequest) []provider.Provider {
	all := s.registry.All()

	capable := make([]provider.Provider, 0, len(all))
	for _, p := range all {
		if !p.Capabilities().CreateEmail {
			continue
		}
		if req.Domain != "" && (!p.Capabilities().CustomDomains || !servesDomain(p, req.Domain)) {
			continue
		}
		capable = append(capable, p)
	}
	return capable
}

// GetEmails 获取邮件列表，渠道由显式指定或按地址域名推断。
func (s *MailService) GetEmails(ctx context.Context, query domain.EmailListQuery) domain.ChannelResponse[[]domain.EmailMessage] {
	start := time.Now()
	if err := s.ensureInitialized(ctx); err != nil {
		return domain.Fail[[]domain.EmailMessage](aggregatorName, err, time.Since(start))
	}

	target, chErr := s.resolve(query.Provider, query.Address)
	if chErr != nil {
		return domain.Fail[[]domain.EmailMessage](aggregatorName, chErr, time.Since(start))
	}

	resp := target.GetEmails(ctx, query)
	s.recordCall(target.Name(), "list", resp.Success, resp.Metadata)
	if s.metrics != nil && resp.Success {
		s.metrics.EmailsListed.WithLabelValues(target.Name()).Inc()
	}
	return resp
}

// GetEmailContent 获取单封邮件内容。
func (s *MailService) GetEmailContent(ctx context.Context, address, id, providerName, accessToken string) domain.ChannelResponse[domain.EmailMessage] {
	start := time.Now()
	if err := s.ensureInitialized(ctx); err != nil {
		return domain.Fail[domain.EmailMessage](aggregatorName, err, time.Since(start))
	}

	target, chErr := s.resolve(providerName, address)
	if chErr != nil {
		return domain.Fail[domain.EmailMessage](aggregatorName, chErr, time.Since(start))
	}

	resp := target.GetEmailContent(ctx, address, id, accessToken)
	s.recordCall(target.Name(), "content", resp.Success, resp.Metadata)
	return resp
}

// VerifyEmail 验证邮箱地址。
func (s *MailService) VerifyEmail(ctx context.Context, address, providerName string) domain.ChannelResponse[domain.EmailAddress] {
	start := time.Now()
	if err := s.ensureInitialized(ctx); err != nil {
		return domain.Fail[domain.EmailAddress](aggregatorName, err, time.Since(start))
	}

	target, chErr := s.resolve(providerName, address)
	if chErr != nil {
		return domain.Fail[domain.EmailAddress](aggregatorName, chErr, time.Since(start))
	}

	resp := target.VerifyEmail(ctx, address)
	s.recordCall(target.Name(), "verify", resp.Success, resp.Metadata)
	return resp
}

// GetProvidersHealth 并发探测全部渠道的健康状态。
//
// 每个渠道一个探测协程，探测超时取自各自的渠道配置；
// 单个渠道探测失败只体现在它自己的条目上（status=error），
// 永远不会让整个调用失败。结果短暂缓存，force 可绕过。
func (s *MailService) GetProvidersHealth(ctx context.Context, force bool) domain.ChannelResponse[map[string]domain.ChannelHealth] {
	start := time.Now()
	if err := s.ensureInitialized(ctx); err != nil {
		return domain.Fail[map[string]domain.ChannelHealth](aggregatorName, err, time.Since(start))
	}

	if !force {
		if cached, ok := s.cache.Get(healthCacheKey); ok {
			return domain.OK(aggregatorName, cached.(map[string]domain.ChannelHealth), time.Since(start))
		}
	}

	providers := s.registry.All()
	results := make([]domain.ChannelHealth, len(providers))

	g, probeCtx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			results[i] = p.GetHealth(probeCtx)
			return nil
		})
	}
	_ = g.Wait() // 探测协程从不返回错误，失败都折进各自的快照

	health := make(map[string]domain.ChannelHealth, len(providers))
	for i, p := range providers {
		health[p.Name()] = results[i]
		if s.metrics != nil {
			s.metrics.RecordChannelHealth(p.Name(), results[i].Status)
		}
	}

	s.cache.Set(healthCacheKey, health, 0)
	return domain.OK(aggregatorName, health, time.Since(start))
}

// GetProvidersStats 同步聚合各渠道的累计计数器，不产生网络调用。
func (s *MailService) GetProvidersStats(ctx context.Context) domain.ChannelResponse[map[string]domain.ChannelStats] {
	start := time.Now()
	if err := s.ensureInitialized(ctx); err != nil {
		return domain.Fail[map[string]domain.ChannelStats](aggregatorName, err, time.Since(start))
	}

	stats := make(map[string]domain.ChannelStats)
	for _, p := range s.registry.All() {
		stats[p.Name()] = p.GetStats()
	}
	return domain.OK(aggregatorName, stats, time.Since(start))
}

// ProviderInfo 单个渠道的静态描述（用于 info 端点）。
type ProviderInfo struct {
	Name         string                     `json:"name"`
	Domains      []string                   `json:"domains"`
	Capabilities domain.ChannelCapabilities `json:"capabilities"`
}

// ListProviders 返回全部启用渠道的静态描述。
func (s *MailService) ListProviders(ctx context.Context) ([]ProviderInfo, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	providers := s.registry.All()
	infos := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		infos = append(infos, ProviderInfo{
			Name:         p.Name(),
			Domains:      p.Domains(),
			Capabilities: p.Capabilities(),
		})
	}
	return infos, nil
}

// Ready 报告注册表是否已初始化（就绪探针用）。
func (s *MailService) Ready() bool {
	return s.registry.Initialized()
}

// ensureInitialized 在请求上下文中惰性初始化注册表。
func (s *MailService) ensureInitialized(ctx context.Context) *domain.ChannelError {
	if err := s.registry.Initialize(ctx); err != nil {
		return domain.NewChannelError(domain.ErrorTypeConfiguration, aggregatorName,
			fmt.Sprintf("provider registry initialization failed: %v", err))
	}
	return nil
}

// resolve 确定处理请求的渠道：显式指定优先，否则按地址域名推断。
func (s *MailService) resolve(providerName, address string) (provider.Provider, *domain.ChannelError) {
	if providerName != "" {
		target, ok := s.registry.Get(providerName)
		if !ok {
			return nil, domain.NewChannelError(domain.ErrorTypeConfiguration, aggregatorName,
				fmt.Sprintf("unknown provider: %s", providerName))
		}
		return target, nil
	}

	if err := domain.ValidateAddress(address); err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeAPI, aggregatorName,
			fmt.Sprintf("malformed email address: %s", address))
	}
	_, addrDomain, _ := domain.SplitAddress(address)

	target, found := s.registry.ResolveByDomain(addrDomain)
	if !found {
		return nil, domain.NewChannelError(domain.ErrorTypeAPI, aggregatorName,
			fmt.Sprintf("unsupported domain: %s", addrDomain))
	}
	return target, nil
}

// recordCall 把一次渠道调用计入监控指标。
func (s *MailService) recordCall(channel, operation string, success bool, meta domain.ResponseMetadata) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordChannelRequest(channel, operation, success, time.Duration(meta.ResponseTime)*time.Millisecond)
	if operation == "create" && success {
		s.metrics.EmailsCreated.WithLabelValues(channel).Inc()
	}
}

func servesDomain(p provider.Provider, requested string) bool {
	for _, d := range p.Domains() {
		if d == requested {
			return true
		}
	}
	return false
}
