package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/arjunmehta-dev/threadmart-backend/pkg/db"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/db/models"
	pkgerrors "github.com/arjunmehta-dev/threadmart-backend/pkg/errors"
	"github.com/arjunmehta-dev/threadmart-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	dsn := "file:catalog_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&models.Product{}, &models.ProductVariant{}, &models.VariantSize{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := NewService(NewRepository(conn), db.FromConn(conn))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, conn
}

func basicInput(title string) CreateProductInput {
	return CreateProductInput{
		Title:    title,
		Category: "tshirts",
		IsActive: true,
		Variants: []VariantInput{
			{
				Color:  "black",
				Images: []string{"https://cdn.example.com/black-front.jpg"},
				Sizes: []SizeInput{
					{Size: "M", PriceCents: 59900, StockQty: 10},
					{Size: "L", PriceCents: 59900, DiscountPercent: 10, StockQty: 0},
				},
			},
			{
				Color: "white",
				Sizes: []SizeInput{
					{Size: "M", PriceCents: 54900, StockQty: 3},
				},
			},
		},
	}
}

func TestCreateProductBuildsMatrix(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	sellerID := uuid.New()

	dto, err := svc.CreateProduct(ctx, sellerID, basicInput("Oversized Tee"))
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if dto.SellerID != sellerID {
		t.Fatalf("seller mismatch: %s", dto.SellerID)
	}
	if len(dto.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(dto.Variants))
	}
	// variants are ordered by color
	if dto.Variants[0].Color != "black" || dto.Variants[1].Color != "white" {
		t.Fatalf("unexpected variant order: %+v", dto.Variants)
	}
	black := dto.Variants[0]
	if len(black.Sizes) != 2 {
		t.Fatalf("expected 2 sizes for black, got %d", len(black.Sizes))
	}
	for _, size := range black.Sizes {
		switch size.Size {
		case "M":
			if !size.InStock || size.StockQty != 10 {
				t.Fatalf("unexpected M size: %+v", size)
			}
		case "L":
			if size.InStock || size.DiscountPercent != 10 {
				t.Fatalf("unexpected L size: %+v", size)
			}
		default:
			t.Fatalf("unexpected size %q", size.Size)
		}
	}
}

func TestCreateProductValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	sellerID := uuid.New()

	cases := []struct {
		name   string
		mutate func(*CreateProductInput)
	}{
		{"missing title", func(in *CreateProductInput) { in.Title = " " }},
		{"no variants", func(in *CreateProductInput) { in.Variants = nil }},
		{"duplicate color", func(in *CreateProductInput) { in.Variants[1].Color = "black" }},
		{"variant without sizes", func(in *CreateProductInput) { in.Variants[0].Sizes = nil }},
		{"duplicate size", func(in *CreateProductInput) { in.Variants[0].Sizes[1].Size = "M" }},
		{"zero price", func(in *CreateProductInput) { in.Variants[0].Sizes[0].PriceCents = 0 }},
		{"discount too high", func(in *CreateProductInput) { in.Variants[0].Sizes[0].DiscountPercent = 95 }},
		{"negative stock", func(in *CreateProductInput) { in.Variants[0].Sizes[0].StockQty = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := basicInput("Bad Tee")
			tc.mutate(&input)
			_, err := svc.CreateProduct(ctx, sellerID, input)
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateProductOwnershipAndReplace(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	sellerID := uuid.New()

	dto, err := svc.CreateProduct(ctx, sellerID, basicInput("Slim Jeans"))
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	_, err = svc.UpdateProduct(ctx, uuid.New(), dto.ID, UpdateProductInput{})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden for foreign seller, got %v", err)
	}

	title := "Slim Fit Jeans"
	variants := []VariantInput{
		{
			Color: "indigo",
			Sizes: []SizeInput{{Size: "32", PriceCents: 199900, StockQty: 4}},
		},
	}
	updated, err := svc.UpdateProduct(ctx, sellerID, dto.ID, UpdateProductInput{
		Title:    &title,
		Variants: &variants,
	})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if updated.Title != title {
		t.Fatalf("title not updated: %s", updated.Title)
	}
	if len(updated.Variants) != 1 || updated.Variants[0].Color != "indigo" {
		t.Fatalf("matrix not replaced: %+v", updated.Variants)
	}
	if updated.Variants[0].Sizes[0].StockQty != 4 {
		t.Fatalf("stock not restated: %+v", updated.Variants[0].Sizes)
	}
}

func TestSetProductActive(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	sellerID := uuid.New()

	dto, err := svc.CreateProduct(ctx, sellerID, basicInput("Linen Shirt"))
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	if err := svc.SetProductActive(ctx, sellerID, dto.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	reloaded, err := svc.GetProduct(ctx, dto.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if reloaded.IsActive {
		t.Fatal("product should be inactive")
	}

	err = svc.SetProductActive(ctx, sellerID, uuid.New(), true)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListProductsFiltersAndPagination(t *testing.T) {
	t.Parallel()

	svc, conn := newTestService(t)
	ctx := context.Background()
	sellerID := uuid.New()

	titles := []string{"Tee One", "Tee Two", "Tee Three"}
	for i, title := range titles {
		input := basicInput(title)
		if i == 2 {
			input.Category = "jeans"
			input.Variants[0].Sizes = []SizeInput{{Size: "32", PriceCents: 149900, StockQty: 0}}
			input.Variants = input.Variants[:1]
		}
		dto, err := svc.CreateProduct(ctx, sellerID, input)
		if err != nil {
			t.Fatalf("create %q: %v", title, err)
		}
		// spread created_at so the cursor ordering is deterministic
		stamp := time.Now().Add(time.Duration(i-3) * time.Minute)
		if err := conn.Model(&models.Product{}).Where("id = ?", dto.ID).
			Update("created_at", stamp).Error; err != nil {
			t.Fatalf("stamp created_at: %v", err)
		}
	}

	// inactive products are hidden from the public browse view
	hidden, err := svc.CreateProduct(ctx, sellerID, basicInput("Hidden Tee"))
	if err != nil {
		t.Fatalf("create hidden: %v", err)
	}
	if err := svc.SetProductActive(ctx, sellerID, hidden.ID, false); err != nil {
		t.Fatalf("deactivate hidden: %v", err)
	}

	category := "jeans"
	result, err := svc.ListProducts(ctx, ListProductsInput{
		Filters: ProductListFilters{Category: &category},
	})
	if err != nil {
		t.Fatalf("list jeans: %v", err)
	}
	if len(result.Products) != 1 || result.Products[0].Title != "Tee Three" {
		t.Fatalf("unexpected jeans page: %+v", result.Products)
	}
	if result.Products[0].InStock {
		t.Fatal("jeans should be out of stock")
	}
	if result.Products[0].PriceFromCents != 149900 {
		t.Fatalf("unexpected price floor: %d", result.Products[0].PriceFromCents)
	}

	inStock, err := svc.ListProducts(ctx, ListProductsInput{
		Filters: ProductListFilters{InStockOnly: true},
	})
	if err != nil {
		t.Fatalf("list in stock: %v", err)
	}
	if len(inStock.Products) != 2 {
		t.Fatalf("expected 2 in-stock products, got %d", len(inStock.Products))
	}

	// seller view includes the inactive listing
	sellerView, err := svc.ListProducts(ctx, ListProductsInput{SellerID: &sellerID})
	if err != nil {
		t.Fatalf("list seller view: %v", err)
	}
	if len(sellerView.Products) != 4 {
		t.Fatalf("expected 4 products in seller view, got %d", len(sellerView.Products))
	}

	// cursor walk over the public view
	first, err := svc.ListProducts(ctx, ListProductsInput{
		Pagination: pagination.Params{Limit: 2},
	})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Products) != 2 || first.NextCursor == "" {
		t.Fatalf("unexpected first page: %d rows, cursor=%q", len(first.Products), first.NextCursor)
	}
	second, err := svc.ListProducts(ctx, ListProductsInput{
		Pagination: pagination.Params{Limit: 2, Cursor: first.NextCursor},
	})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Products) != 1 || second.NextCursor != "" {
		t.Fatalf("unexpected second page: %d rows, cursor=%q", len(second.Products), second.NextCursor)
	}
}
