package registry

import "fmt"

const (
	playerAPI = "VRC.SDKBase.VRCPlayerApi"
	collider  = "UnityEngine.Collider"
	collision = "UnityEngine.Collision"
	boolean   = "System.Boolean"
	single    = "System.Single"
	inputArgs = "VRC.Udon.Common.UdonInputEventArgs"
)

// builtinEvents is the VM's event table. Parameter names are the exact
// heap names the VM writes to before invoking the event.
var builtinEvents = []Event{
	{Name: "_start"},
	{Name: "_update"},
	{Name: "_lateUpdate"},
	{Name: "_fixedUpdate"},
	{Name: "_interact"},
	{Name: "_onEnable"},
	{Name: "_onDisable"},
	{Name: "_onDeserialization"},
	{Name: "_onPreSerialization"},
	{Name: "_onPostSerialization", Params: []Param{
		{"onPostSerializationResult", "VRC.Udon.Common.SerializationResult"},
	}},
	{Name: "_onPlayerJoined", Params: []Param{{"onPlayerJoinedPlayer", playerAPI}}},
	{Name: "_onPlayerLeft", Params: []Param{{"onPlayerLeftPlayer", playerAPI}}},
	{Name: "_onPlayerRespawn", Params: []Param{{"onPlayerRespawnPlayer", playerAPI}}},
	{Name: "_onPlayerTriggerEnter", Params: []Param{{"onPlayerTriggerEnterPlayer", playerAPI}}},
	{Name: "_onPlayerTriggerExit", Params: []Param{{"onPlayerTriggerExitPlayer", playerAPI}}},
	{Name: "_onOwnershipTransferred", Params: []Param{{"onOwnershipTransferredPlayer", playerAPI}}},
	{Name: "_onTriggerEnter", Params: []Param{{"onTriggerEnterOther", collider}}},
	{Name: "_onTriggerExit", Params: []Param{{"onTriggerExitOther", collider}}},
	{Name: "_onCollisionEnter", Params: []Param{{"onCollisionEnterOther", collision}}},
	{Name: "_onCollisionExit", Params: []Param{{"onCollisionExitOther", collision}}},
	{Name: "_onPickup"},
	{Name: "_onDrop"},
	{Name: "_onPickupUseDown"},
	{Name: "_onPickupUseUp"},
	{Name: "_inputJump", Params: []Param{
		{"inputJumpBoolValue", boolean},
		{"inputJumpArgs", inputArgs},
	}},
	{Name: "_inputUse", Params: []Param{
		{"inputUseBoolValue", boolean},
		{"inputUseArgs", inputArgs},
	}},
	{Name: "_inputMoveHorizontal", Params: []Param{
		{"inputMoveHorizontalFloatValue", single},
		{"inputMoveHorizontalArgs", inputArgs},
	}},
	{Name: "_inputMoveVertical", Params: []Param{
		{"inputMoveVerticalFloatValue", single},
		{"inputMoveVerticalArgs", inputArgs},
	}},
}

// builtinExternalTypes lists scene-owned types. A constant of one of
// these would need a live object to default from.
var builtinExternalTypes = []string{
	"UnityEngine.Object",
	"UnityEngine.GameObject",
	"UnityEngine.Transform",
	"UnityEngine.Component",
	"UnityEngine.Material",
	"UnityEngine.AudioClip",
	"UnityEngine.AudioSource",
	"UnityEngine.Animator",
	"UnityEngine.Renderer",
	"UnityEngine.Rigidbody",
	collider,
	collision,
	"VRC.Udon.UdonBehaviour",
	"VRC.Udon.Common.Interfaces.IUdonEventReceiver",
	playerAPI,
}

// Default returns a registry populated with the VM's built-in events and
// resource types. It panics if the built-in table is inconsistent.
func Default() *Registry {
	r := New()
	for _, e := range builtinEvents {
		if err := r.AddEvent(e); err != nil {
			panic(fmt.Sprintf("registry: built-in table: %v", err))
		}
	}
	r.AddExternalType(builtinExternalTypes...)
	return r
}
