package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prom は Prometheus を使ったメトリクス実装です。
type Prom struct {
	created           prometheus.Counter
	getHit            prometheus.Counter
	getMiss           prometheus.Counter
	activated         prometheus.Counter
	passivated        prometheus.Counter
	passivationFailed prometheus.Counter
	removed           prometheus.Counter
	resident          prometheus.Gauge
}

// NewProm は Prometheus を使ったメトリクス実装を初期化し、reg に登録します。
// reg が nil の場合はデフォルトレジストリを使います。
func NewProm(namespace, cacheName string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"cache": cacheName}
	makeC := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	makeG := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	p := &Prom{
		created:           makeC("created_total", "Number of instances created by the factory"),
		getHit:            makeC("get_hit_total", "Number of gets served from memory"),
		getMiss:           makeC("get_miss_total", "Number of gets for unknown ids"),
		activated:         makeC("activated_total", "Number of instances activated from the object store"),
		passivated:        makeC("passivated_total", "Number of instances passivated to the object store"),
		passivationFailed: makeC("passivation_failed_total", "Number of failed passivation attempts"),
		removed:           makeC("removed_total", "Number of instances destroyed"),
		resident:          makeG("resident_entries", "Current number of entries held in memory"),
	}

	// 同一 Registerer への重複登録は panic するので、キャッシュ名ごとに 1 回だけ呼ぶ
	reg.MustRegister(
		p.created, p.getHit, p.getMiss, p.activated, p.passivated,
		p.passivationFailed, p.removed, p.resident,
	)
	return p
}

// IncCreated はインスタンスの生成をカウントします。
func (p *Prom) IncCreated() { p.created.Inc() }

// IncGetHit はメモリ上のエントリへのヒットをカウントします。
func (p *Prom) IncGetHit() { p.getHit.Inc() }

// IncGetMiss は未知 ID へのアクセスをカウントします。
func (p *Prom) IncGetMiss() { p.getMiss.Inc() }

// IncActivated はストアからの復元をカウントします。
func (p *Prom) IncActivated() { p.activated.Inc() }

// IncPassivated はストアへの退避をカウントします。
func (p *Prom) IncPassivated() { p.passivated.Inc() }

// IncPassivationFailed は退避の失敗をカウントします。
func (p *Prom) IncPassivationFailed() { p.passivationFailed.Inc() }

// IncRemoved はエントリの破棄をカウントします。
func (p *Prom) IncRemoved() { p.removed.Inc() }

// SetResident はメモリ上のエントリ数を設定します。
func (p *Prom) SetResident(n int) {
	if n >= 0 {
		p.resident.Set(float64(n))
	}
}
