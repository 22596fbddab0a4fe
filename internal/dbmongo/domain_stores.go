package dbmongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"billingdesk/internal/common"
)

// The back office owns these collections; the notification engine only reads them.

type productRepository struct {
	col *mongo.Collection
}

func NewProductRepository(mc *MongoClient) common.ProductRepository {
	return &productRepository{col: mc.Database.Collection("products")}
}

var belowThresholdFilter = bson.M{"$expr": bson.M{"$lte": bson.A{"$stock", "$min_stock"}}}

func (r *productRepository) BelowThreshold(ctx context.Context, limit int64) ([]*common.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "stock", Value: 1}}).SetLimit(limit)
	out, err := findAll[common.Product](ctx, r.col, belowThresholdFilter, opts)
	if err != nil {
		return nil, storeErr("list low stock products", err)
	}
	return out, nil
}

func (r *productRepository) ByIDs(ctx context.Context, ids []string) ([]*common.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := findAll[common.Product](ctx, r.col, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, storeErr("list products", err)
	}
	return out, nil
}

func (r *productRepository) ByID(ctx context.Context, id string) (*common.Product, error) {
	var p common.Product
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, storeErr("get product", err)
	}
	return &p, nil
}

type taxEntryRepository struct {
	col *mongo.Collection
}

func NewTaxEntryRepository(mc *MongoClient) common.TaxEntryRepository {
	return &taxEntryRepository{col: mc.Database.Collection("gst_entries")}
}

func (r *taxEntryRepository) Pending(ctx context.Context, limit int64) ([]*common.TaxEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "invoice_date", Value: 1}}).SetLimit(limit)
	out, err := findAll[common.TaxEntry](ctx, r.col, bson.M{"status": common.PaymentPending}, opts)
	if err != nil {
		return nil, storeErr("list pending gst entries", err)
	}
	return out, nil
}

func (r *taxEntryRepository) PaidSince(ctx context.Context, since time.Time, limit int64) ([]*common.TaxEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "paid_at", Value: -1}}).SetLimit(limit)
	filter := bson.M{"status": common.PaymentPaid, "paid_at": bson.M{"$gte": since}}
	out, err := findAll[common.TaxEntry](ctx, r.col, filter, opts)
	if err != nil {
		return nil, storeErr("list paid gst entries", err)
	}
	return out, nil
}

type orderRepository struct {
	col *mongo.Collection
}

func NewOrderRepository(mc *MongoClient) common.OrderRepository {
	return &orderRepository{col: mc.Database.Collection("orders")}
}

func (r *orderRepository) PendingPayment(ctx context.Context, limit int64) ([]*common.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(limit)
	out, err := findAll[common.Order](ctx, r.col, bson.M{"payment_status": common.PaymentPending}, opts)
	if err != nil {
		return nil, storeErr("list pending orders", err)
	}
	return out, nil
}

func (r *orderRepository) PaidSince(ctx context.Context, since time.Time, limit int64) ([]*common.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "paid_at", Value: -1}}).SetLimit(limit)
	filter := bson.M{"payment_status": common.PaymentPaid, "paid_at": bson.M{"$gte": since}}
	out, err := findAll[common.Order](ctx, r.col, filter, opts)
	if err != nil {
		return nil, storeErr("list paid orders", err)
	}
	return out, nil
}
