package stream

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// Op is the kind of change a stream record carries.
type Op string

const (
	OpInsert Op = "INSERT"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// Event is one item change. Old is nil on insert, New is nil on remove.
type Event struct {
	Kind keys.Kind
	Op   Op
	Key  store.PK
	Old  store.Item
	New  store.Item
}

// EventFromRecord converts a stream record. It reports false for event names
// other than INSERT, MODIFY and REMOVE.
func EventFromRecord(record events.DynamoDBEventRecord) (Event, bool) {
	op := Op(record.EventName)
	switch op {
	case OpInsert, OpModify, OpRemove:
	default:
		return Event{}, false
	}

	change := record.Change
	e := Event{
		Kind: keys.Classify(getStringAttr(change.Keys, keys.PartitionKey), getStringAttr(change.Keys, keys.SortKey)),
		Op:   op,
		Key:  ConvertStreamKey(change.Keys),
	}
	if op != OpInsert && len(change.OldImage) > 0 {
		e.Old = ConvertImage(change.OldImage)
	}
	if op != OpRemove && len(change.NewImage) > 0 {
		e.New = ConvertImage(change.NewImage)
	}
	return e, true
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// ConvertStreamKey converts a DynamoDB stream key to a store.PK.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.PK {
	return store.PK(ConvertImage(streamKey))
}

// ConvertImage converts a stream image to an item.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) store.Item {
	result := make(store.Item, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertValue(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	}
	return nil
}
