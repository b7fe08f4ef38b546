package escrow

import (
	"time"

	"escrow/internal/models"
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordOperationDuration(string, time.Duration)                          {}
func (n *NoopMetricsCollector) RecordOperationResult(string, string)                                   {}
func (n *NoopMetricsCollector) RecordTransition(models.EscrowStatus, models.EscrowStatus, models.Role) {}
func (n *NoopMetricsCollector) RecordTransaction(models.TransactionType, int64)                        {}
func (n *NoopMetricsCollector) RecordCacheHit(string)                                                  {}
func (n *NoopMetricsCollector) RecordCacheMiss(string)                                                 {}
func (n *NoopMetricsCollector) RecordError(string, string)                                             {}
