// Package catalog registers the built-in node chains of the advisory
// platform: one chain per module, linked where entities reference each other.
package catalog

import (
	"github.com/mirajehossain/graphmigrate/internal/backfill"
	"github.com/mirajehossain/graphmigrate/internal/graph"
	"github.com/mirajehossain/graphmigrate/internal/ops"
	"github.com/mirajehossain/graphmigrate/internal/schema"
)

func id(module, name string) graph.NodeID { return graph.NodeID{Module: module, Name: name} }

func pk() schema.Field { return schema.Field{Name: "id", Kind: schema.BigInt, Primary: true} }

func char(name string, n int, null bool) schema.Field {
	return schema.Field{Name: name, Kind: schema.Char, MaxLength: n, Null: null}
}

func fk(name, entity string, onDelete schema.OnDelete, null bool) schema.Field {
	return schema.Field{Name: name, Kind: schema.FK, Null: null, Ref: &schema.Ref{Entity: entity, OnDelete: onDelete}}
}

func created() schema.Field { return schema.Field{Name: "created_at", Kind: schema.Timestamp} }

var (
	CoreInitial      = id("core", "0001_initial")
	CoreTaskStatuses = id("core", "0002_update_task_statuses")
	AgriInitial      = id("agri", "0001_initial")
	CustomersInitial = id("customers", "0001_initial")
	CustomersDenull  = id("customers", "0002_denullify_text_fields")
	CustomersCommods = id("customers", "0003_customer_commodity")
	MarketsInitial   = id("markets", "0001_initial")
	MarketsShortName = id("markets", "0002_market_short_name")
	MarketsPrice     = id("markets", "0003_market_price")
	PaymentsInitial  = id("payments", "0001_initial")
	PaymentsOrdering = id("payments", "0002_alter_payment_options")
	SMSInitial       = id("sms", "0001_initial")
	SMSRenameText    = id("sms", "0002_rename_text_body")
	CallsInitial     = id("calls", "0001_initial")
	WorldInitial     = id("world", "0001_initial")
)

// Nodes returns fresh copies of every built-in node.
func Nodes() []*graph.Node {
	return []*graph.Node{
		{
			ID: CoreInitial,
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "task", Table: "core_task", Fields: []schema.Field{
					pk(),
					{Name: "description", Kind: schema.Text},
					char("status", 20, true),
					created(),
				}},
			},
		},
		{
			ID:   CoreTaskStatuses,
			Deps: []graph.NodeID{CoreInitial},
			Ops: []ops.Operation{
				ops.RunBackfill{Forward: TaskStatuses, Backward: backfill.Noop{Reason: "legacy statuses are not kept"}},
				ops.AlterField{Entity: "task", Field: schema.Field{Name: "status", Kind: schema.Char, MaxLength: 20, Default: schema.Str("new")}},
			},
		},
		{
			ID: AgriInitial,
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "commodity", Table: "agri_commodity", Fields: []schema.Field{
					pk(),
					{Name: "name", Kind: schema.Char, MaxLength: 100, Unique: true},
					char("variety", 100, true),
				}},
			},
		},
		{
			ID: CustomersInitial,
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "customer", Table: "customers_customer", Fields: []schema.Field{
					pk(),
					char("name", 120, false),
					{Name: "phone", Kind: schema.Char, MaxLength: 20, Unique: true},
					char("sex", 8, true),
					char("location", 100, true),
					{Name: "notes", Kind: schema.Text, Null: true},
					created(),
				}, Options: map[string]string{"verbose_name": "Customer"}},
			},
		},
		{
			ID:   CustomersDenull,
			Deps: []graph.NodeID{CustomersInitial},
			Ops: []ops.Operation{
				ops.RunBackfill{Forward: DenullifyTextFields, Backward: backfill.Noop{Reason: "empty and missing values are indistinguishable afterwards"}},
				ops.AlterField{Entity: "customer", Field: schema.Field{Name: "sex", Kind: schema.Char, MaxLength: 8, Default: schema.Str("")}},
				ops.AlterField{Entity: "customer", Field: schema.Field{Name: "location", Kind: schema.Char, MaxLength: 100, Default: schema.Str("")}},
				ops.AlterField{Entity: "customer", Field: schema.Field{Name: "notes", Kind: schema.Text, Default: schema.Str("")}},
			},
		},
		{
			ID:   CustomersCommods,
			Deps: []graph.NodeID{CustomersDenull, AgriInitial},
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "customer_commodity", Table: "customers_customer_commodity", Fields: []schema.Field{
					pk(),
					fk("customer_id", "customer", schema.Cascade, false),
					fk("commodity_id", "commodity", schema.Cascade, false),
				}},
				ops.AlterUniqueTogether{Entity: "customer_commodity", Sets: [][]string{{"customer_id", "commodity_id"}}},
			},
		},
		{
			ID: MarketsInitial,
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "market", Table: "markets_market", Fields: []schema.Field{
					pk(),
					char("name", 160, false),
					char("location", 100, true),
				}},
			},
		},
		{
			ID:      MarketsShortName,
			Deps:    []graph.NodeID{MarketsInitial},
			Ops:     []ops.Operation{ops.AddField{Entity: "market", Field: char("short_name", ShortNameLength, true)}},
			Forward: PopulateShortName,
			Reverse: backfill.Noop{Reason: "the column is dropped on reverse"},
		},
		{
			ID:   MarketsPrice,
			Deps: []graph.NodeID{MarketsShortName, AgriInitial},
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "market_price", Table: "markets_market_price", Fields: []schema.Field{
					pk(),
					fk("market_id", "market", schema.Cascade, false),
					fk("commodity_id", "commodity", schema.Cascade, false),
					{Name: "price", Kind: schema.Decimal, Precision: 10, Scale: 2},
					{Name: "date", Kind: schema.Timestamp},
				}, Unique: [][]string{{"market_id", "commodity_id", "date"}}},
			},
		},
		{
			ID:   PaymentsInitial,
			Deps: []graph.NodeID{CustomersInitial},
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "payment", Table: "payments_payment", Fields: []schema.Field{
					pk(),
					fk("customer_id", "customer", schema.Protect, false),
					{Name: "amount", Kind: schema.Decimal, Precision: 10, Scale: 2},
					{Name: "currency", Kind: schema.Char, MaxLength: 3, Default: schema.Str("KES")},
					created(),
				}},
			},
		},
		{
			ID:   PaymentsOrdering,
			Deps: []graph.NodeID{PaymentsInitial},
			Ops: []ops.Operation{
				ops.AlterModelOptions{Entity: "payment", Options: map[string]string{"ordering": "-created_at"}},
			},
		},
		{
			ID:   SMSInitial,
			Deps: []graph.NodeID{CustomersInitial},
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "outgoing_sms", Table: "sms_outgoing_sms", Fields: []schema.Field{
					pk(),
					fk("recipient_id", "customer", schema.Cascade, false),
					{Name: "text", Kind: schema.Text},
					{Name: "sent_at", Kind: schema.Timestamp, Null: true},
					created(),
				}},
			},
		},
		{
			ID:   SMSRenameText,
			Deps: []graph.NodeID{SMSInitial},
			Ops:  []ops.Operation{ops.RenameField{Entity: "outgoing_sms", From: "text", To: "body"}},
		},
		{
			ID:   CallsInitial,
			Deps: []graph.NodeID{CustomersInitial},
			Ops: []ops.Operation{
				ops.CreateEntity{Entity: "call", Table: "calls_call", Fields: []schema.Field{
					pk(),
					char("caller_number", 20, false),
					fk("customer_id", "customer", schema.SetNull, true),
					{Name: "duration", Kind: schema.Int, Null: true},
					created(),
				}},
			},
		},
		{
			ID: WorldInitial,
			Ops: []ops.Operation{
				ops.CreateExtension{Name: "spatial"},
				ops.CreateEntity{Entity: "border", Table: "world_border", Fields: []schema.Field{
					pk(),
					char("name", 100, false),
					{Name: "level", Kind: schema.Int},
				}},
			},
		},
	}
}

// Register adds the built-in nodes to reg.
func Register(reg *graph.Registry) error {
	return reg.Register(Nodes()...)
}
