package photo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"
)

// placeholderRe matches positional $N placeholders emitted by the builder.
var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// dataAPIClient is the subset of *rdsdata.Client the executor needs.
type dataAPIClient interface {
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

// DataAPIExecutor runs queries against Aurora Serverless through the
// RDS Data API, so Lambdas need no VPC connectivity or connection pool.
type DataAPIExecutor struct {
	client     dataAPIClient
	clusterARN string
	secretARN  string
	database   string
}

var _ Executor = (*DataAPIExecutor)(nil)

// NewDataAPIExecutor creates a DataAPIExecutor for the given cluster.
func NewDataAPIExecutor(client *rdsdata.Client, clusterARN, secretARN, database string) *DataAPIExecutor {
	return &DataAPIExecutor{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
	}
}

func (e *DataAPIExecutor) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	out, err := e.execute(ctx, query, args, true)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(out.Records))
	for _, rec := range out.Records {
		row := make(Row, len(out.ColumnMetadata))
		for i, col := range out.ColumnMetadata {
			if i >= len(rec) {
				break
			}
			row[aws.ToString(col.Label)] = fieldValue(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *DataAPIExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	out, err := e.execute(ctx, query, args, false)
	if err != nil {
		return 0, err
	}
	return out.NumberOfRecordsUpdated, nil
}

func (e *DataAPIExecutor) execute(ctx context.Context, query string, args []any, withMeta bool) (*rdsdata.ExecuteStatementOutput, error) {
	sql, params, err := toNamedParams(query, args)
	if err != nil {
		return nil, err
	}
	out, err := e.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn:           aws.String(e.clusterARN),
		SecretArn:             aws.String(e.secretARN),
		Database:              aws.String(e.database),
		Sql:                   aws.String(sql),
		Parameters:            params,
		IncludeResultMetadata: withMeta,
	})
	if err != nil {
		log.Error().Err(err).Str("database", e.database).Msg("Data API ExecuteStatement failed")
		return nil, fmt.Errorf("ExecuteStatement: %w", err)
	}
	return out, nil
}

// toNamedParams rewrites $N placeholders to :pN and converts the
// positional args into Data API parameters.
func toNamedParams(query string, args []any) (string, []rdsdatatypes.SqlParameter, error) {
	sql := placeholderRe.ReplaceAllString(query, ":p$1")
	params := make([]rdsdatatypes.SqlParameter, 0, len(args))
	for i, arg := range args {
		p := rdsdatatypes.SqlParameter{Name: aws.String(fmt.Sprintf("p%d", i+1))}
		switch v := arg.(type) {
		case nil:
			p.Value = &rdsdatatypes.FieldMemberIsNull{Value: true}
		case string:
			p.Value = &rdsdatatypes.FieldMemberStringValue{Value: v}
		case bool:
			p.Value = &rdsdatatypes.FieldMemberBooleanValue{Value: v}
		case int:
			p.Value = &rdsdatatypes.FieldMemberLongValue{Value: int64(v)}
		case int64:
			p.Value = &rdsdatatypes.FieldMemberLongValue{Value: v}
		case uint:
			p.Value = &rdsdatatypes.FieldMemberLongValue{Value: int64(v)}
		case uint64:
			p.Value = &rdsdatatypes.FieldMemberLongValue{Value: int64(v)}
		case float64:
			p.Value = &rdsdatatypes.FieldMemberDoubleValue{Value: v}
		case float32:
			p.Value = &rdsdatatypes.FieldMemberDoubleValue{Value: float64(v)}
		case time.Time:
			p.Value = &rdsdatatypes.FieldMemberStringValue{Value: v.UTC().Format("2006-01-02 15:04:05.000000")}
			p.TypeHint = rdsdatatypes.TypeHintTimestamp
		case []byte:
			p.Value = &rdsdatatypes.FieldMemberBlobValue{Value: v}
		default:
			return "", nil, fmt.Errorf("unsupported parameter type %T at position %d", arg, i+1)
		}
		params = append(params, p)
	}
	return sql, params, nil
}

func fieldValue(f rdsdatatypes.Field) any {
	switch v := f.(type) {
	case *rdsdatatypes.FieldMemberStringValue:
		return v.Value
	case *rdsdatatypes.FieldMemberLongValue:
		return v.Value
	case *rdsdatatypes.FieldMemberBooleanValue:
		return v.Value
	case *rdsdatatypes.FieldMemberDoubleValue:
		return v.Value
	case *rdsdatatypes.FieldMemberBlobValue:
		return v.Value
	case *rdsdatatypes.FieldMemberIsNull:
		return nil
	default:
		return nil
	}
}
