package isolation

import (
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/aggregate"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/alarm"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// Raw metric names read from the metric source.
const (
	MetricTarget2XX = "HTTPCode_Target_2XX_Count"
	MetricTarget3XX = "HTTPCode_Target_3XX_Count"
	MetricTarget5XX = "HTTPCode_Target_5XX_Count"
	MetricELB3XX    = "HTTPCode_ELB_3XX_Count"
	MetricELB5XX    = "HTTPCode_ELB_5XX_Count"

	MetricPacketsDrop     = "PacketsDropCount"
	MetricPacketsInSource = "PacketsInFromSource"
	MetricPacketsInDest   = "PacketsInFromDestination"
)

// Definition describes how one resource class contributes to detection.
// Count and Rate reference the raw metric names in Metrics.
type Definition struct {
	Class      models.ResourceClass
	Metrics    []string
	CountName  string
	Count      aggregate.Expression
	RateName   string
	Rate       aggregate.Expression
	Comparison alarm.Comparison
}

// Definitions returns the metric definitions for every resource class.
//
// Load balancers: faults are target plus ELB 5xx responses, and the fault
// rate is faults over all 2xx, 3xx and 5xx responses.
// NAT gateways: drops over packets received from either side.
func Definitions() map[models.ResourceClass]Definition {
	faults := aggregate.SumOf(MetricTarget5XX, MetricELB5XX)
	responses := aggregate.SumOf(MetricTarget2XX, MetricTarget3XX, MetricELB3XX, MetricTarget5XX, MetricELB5XX)
	drops := aggregate.Ref(MetricPacketsDrop)
	packets := aggregate.SumOf(MetricPacketsInSource, MetricPacketsInDest)

	return map[models.ResourceClass]Definition{
		models.ResourceClassLoadBalancer: {
			Class:      models.ResourceClassLoadBalancer,
			Metrics:    []string{MetricTarget2XX, MetricTarget3XX, MetricELB3XX, MetricTarget5XX, MetricELB5XX},
			CountName:  "fault-count",
			Count:      aggregate.Named("fault-count", faults),
			RateName:   "fault-rate",
			Rate:       aggregate.Named("fault-rate", aggregate.Percent(faults, responses)),
			Comparison: alarm.GreaterThan,
		},
		models.ResourceClassNATGateway: {
			Class:      models.ResourceClassNATGateway,
			Metrics:    []string{MetricPacketsDrop, MetricPacketsInSource, MetricPacketsInDest},
			CountName:  "packet-drop-count",
			Count:      aggregate.Named("packet-drop-count", drops),
			RateName:   "packet-drop-rate",
			Rate:       aggregate.Named("packet-drop-rate", aggregate.Percent(drops, packets)),
			Comparison: alarm.GreaterThan,
		},
	}
}

func outlierAlarmName(zone models.ZoneID, def Definition) string {
	return zone.String() + "-" + def.Class.Short() + "-" + def.CountName + "-outlier"
}

func gateAlarmName(res models.Resource, def Definition) string {
	return res.Zone.String() + "-" + res.ID + "-" + def.RateName
}

func impactName(zone models.ZoneID, class models.ResourceClass) string {
	return zone.String() + "-" + class.Short() + "-isolated-impact"
}

func aggregateImpactName(zone models.ZoneID) string {
	return zone.String() + "-aggregate-isolated-impact"
}
